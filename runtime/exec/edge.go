// Package exec runs pipelines: it spawns one execution node per
// operator, wires the nodes with bounded edges, and propagates start,
// stop, and failure between them.
package exec

import (
	"context"
	"sync"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/operator"
)

// DefaultBatchCredit bounds the non-empty batches in flight between two
// adjacent nodes. When the bound is reached the producer suspends until
// the consumer drains.
const DefaultBatchCredit = 20

// edge is the typed mailbox between two adjacent execution nodes.
//
// Non-empty batches travel through a bounded channel whose capacity is
// the credit bound, in strict FIFO. Empty batches (ticks) coalesce into a
// one-slot channel: they carry no data, only liveness, so a consumer sees
// at most one pending tick and may drop it. The producer closes done at
// end-of-stream; the consumer closes cancel to stop the producer.
type edge struct {
	elem   element.Type
	data   chan element.Batch
	tick   chan struct{}
	done   chan struct{}
	cancel chan struct{}

	doneOnce   sync.Once
	cancelOnce sync.Once
}

func newEdge(elem element.Type, credit int) *edge {
	invariant.Precondition(credit > 0, "edge credit must be positive, got %d", credit)
	return &edge{
		elem:   elem,
		data:   make(chan element.Batch, credit),
		tick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
}

// push delivers a batch downstream. Ticks never block; data blocks while
// the credit bound is exhausted. Returns false once the consumer
// cancelled or ctx ended - the producer must then stop emitting.
func (e *edge) push(ctx context.Context, b element.Batch) bool {
	if b == nil || b.Empty() {
		select {
		case e.tick <- struct{}{}:
		default:
		}
		select {
		case <-e.cancel:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	invariant.Invariant(b.Elem() == e.elem,
		"edge carries %s, operator pushed %s", e.elem, b.Elem())
	select {
	case e.data <- b:
		return true
	case <-e.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// pull returns the next batch for the consumer, preferring data over
// ticks. After the producer closes, remaining data drains before
// exhaustion is reported. ok is false at end-of-stream or cancellation.
func (e *edge) pull(ctx context.Context) (element.Batch, bool) {
	select {
	case b := <-e.data:
		return b, true
	default:
	}
	select {
	case b := <-e.data:
		return b, true
	case <-e.tick:
		return element.Empty(e.elem), true
	case <-e.done:
		select {
		case b := <-e.data:
			return b, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

// closeSend marks end-of-stream. Idempotent.
func (e *edge) closeSend() {
	e.doneOnce.Do(func() { close(e.done) })
}

// closeRecv cancels the producer. Idempotent.
func (e *edge) closeRecv() {
	e.cancelOnce.Do(func() { close(e.cancel) })
}

// edgeInput adapts the consumer side of an edge to the operator Input
// contract. It tracks exhaustion so the node can report draining.
type edgeInput struct {
	e         *edge
	exhausted func()
}

func (in edgeInput) Pull(ctx context.Context) (element.Batch, bool) {
	b, ok := in.e.pull(ctx)
	if !ok && in.exhausted != nil {
		in.exhausted()
	}
	return b, ok
}

func (in edgeInput) Elem() element.Type { return in.e.elem }

var _ operator.Input = edgeInput{}
