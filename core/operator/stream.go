package operator

import (
	"context"

	"github.com/stromdata/strom/core/element"
)

// Input is the pull side of the upstream edge, handed to an operator at
// instantiation. Pull blocks until a batch arrives, a tick is due, or the
// input closes. An empty batch is a liveness tick, not data.
type Input interface {
	// Pull returns the next input batch. ok is false once the upstream
	// sequence is exhausted or the run is cancelled; the operator should
	// then drain and finish.
	Pull(ctx context.Context) (batch element.Batch, ok bool)
	// Elem returns the element type of the input edge.
	Elem() element.Type
}

// Step is one advance of an operator's output sequence: a batch (data if
// non-empty, a tick if empty) or the end of the sequence.
type Step struct {
	Batch element.Batch
	Done  bool
}

// Yield wraps a batch into a step.
func Yield(b element.Batch) Step { return Step{Batch: b} }

// Tick is an empty-batch step of the given element type. Operators yield
// ticks whenever they would otherwise block, so the execution node can
// observe liveness and reschedule.
func Tick(t element.Type) Step { return Step{Batch: element.Empty(t)} }

// Done ends the output sequence.
func Done() Step { return Step{Done: true} }

// Generator is the lazy output sequence of a running operator instance.
// The execution node drives it; each Next call is a suspension point.
// A non-nil error is an unrecoverable runtime error and fails the
// pipeline.
type Generator interface {
	Next(ctx context.Context) (Step, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context) (Step, error)

func (f GeneratorFunc) Next(ctx context.Context) (Step, error) { return f(ctx) }

// VoidInput is the input of a source operator: it always has a void tick
// available, so sources pace themselves.
type VoidInput struct{}

func (VoidInput) Pull(ctx context.Context) (element.Batch, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	default:
		return element.VoidBatch{}, true
	}
}

func (VoidInput) Elem() element.Type { return element.Void }

// SliceInput replays a fixed batch sequence; the zero value is an
// immediately-exhausted input. Used by tests and by the bridge.
type SliceInput struct {
	elem    element.Type
	batches []element.Batch
	pos     int
}

// NewSliceInput builds an input over the given batches.
func NewSliceInput(elem element.Type, batches ...element.Batch) *SliceInput {
	return &SliceInput{elem: elem, batches: batches}
}

func (s *SliceInput) Pull(ctx context.Context) (element.Batch, bool) {
	if ctx.Err() != nil || s.pos >= len(s.batches) {
		return nil, false
	}
	b := s.batches[s.pos]
	s.pos++
	return b, true
}

func (s *SliceInput) Elem() element.Type { return s.elem }
