// Package operator defines the contract every pipeline operator
// implements and the pipeline value that composes operators into a typed
// chain.
//
// An operator is a value object: it declares its name, where it must run,
// whether it needs a dedicated OS thread, how its output element type
// follows from its input, how it takes part in the optimization pass, and
// how to instantiate itself into a lazy sequence of output batches.
package operator

import (
	"fmt"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
)

// Location is an operator's placement constraint.
type Location int

const (
	// Anywhere lets the executor place the operator freely.
	Anywhere Location = iota
	// Local pins the operator to the process that started the pipeline.
	Local
	// Remote pins the operator to the node process.
	Remote
)

func (l Location) String() string {
	switch l {
	case Anywhere:
		return "anywhere"
	case Local:
		return "local"
	case Remote:
		return "remote"
	}
	return fmt.Sprintf("location(%d)", int(l))
}

// Order expresses whether an operator's consumer relies on event order.
type Order int

const (
	Ordered Order = iota
	Unordered
)

func (o Order) String() string {
	if o == Unordered {
		return "unordered"
	}
	return "ordered"
}

// OptimizeResult is an operator's answer to the optimization pass.
//
// Filter semantics mirror the pass's right-to-left walk:
//   - Filter == the pending filter: the operator lets the filter pass
//     through untouched (sound only if it preserves the referenced
//     fields on every event).
//   - Filter == expr.True: the operator absorbed the filter.
//   - Filter == nil: the operator blocks pushdown; the pass materializes
//     a where operator for the pending filter immediately downstream.
type OptimizeResult struct {
	// Replacement substitutes the operator in the optimized pipeline.
	// Nil keeps the operator as-is.
	Replacement Operator
	// Filter is the residual filter that keeps moving toward the source,
	// or nil to block pushdown here.
	Filter expr.Predicate
	// Order is the requirement this operator imposes on its input, given
	// the requirement its output is under.
	Order Order
	// Elide drops the operator from the pipeline entirely. Only sound for
	// operators that are order- and content-neutral under the current
	// accumulators.
	Elide bool
}

// DoNotOptimize is the conservative answer: keep the operator, block
// filter pushdown, require ordered input.
func DoNotOptimize() OptimizeResult {
	return OptimizeResult{Filter: nil, Order: Ordered}
}

// PassThrough lets the pending filter and order requirement travel
// through unchanged. Sound only for operators that forward events without
// changing the fields a filter could reference.
func PassThrough(filter expr.Predicate, order Order) OptimizeResult {
	return OptimizeResult{Filter: filter, Order: order}
}

// Operator is a single computational step of a pipeline.
type Operator interface {
	// Name returns the stable identifier of the operator.
	Name() string
	// Location returns the operator's placement constraint.
	Location() Location
	// Detached reports whether the operator must run on its own OS
	// thread because it may block.
	Detached() bool
	// Internal reports whether the operator is excluded from
	// user-visible metrics.
	Internal() bool
	// InferType resolves the output element type for an input element
	// type, or reports a type mismatch.
	InferType(in element.Type) (element.Type, error)
	// Optimize answers the optimization pass; see OptimizeResult.
	Optimize(filter expr.Predicate, order Order) OptimizeResult
	// Instantiate turns the operator into a running instance: a lazy
	// sequence of output batches driven by its execution node. It is
	// called once per pipeline run.
	Instantiate(input Input, ctrl Control) (Generator, error)
	// String returns the operator's definition text; it round-trips the
	// operator's identity for pipeline serialization and diagnostics.
	String() string
}

// TypeError builds the type-mismatch error InferType implementations
// return when they cannot accept an input element type.
func TypeError(name string, in element.Type, want string) error {
	return diag.Error("operator %q cannot process %s input", name, in).
		Kind(diag.KindTypeMismatch).
		Note("expected %s", want).
		Done()
}

// Defaults provides the contract's default answers. Embed it and
// override what the operator actually cares about.
type Defaults struct{}

func (Defaults) Location() Location { return Anywhere }
func (Defaults) Detached() bool     { return false }
func (Defaults) Internal() bool     { return false }

func (Defaults) Optimize(expr.Predicate, Order) OptimizeResult {
	return DoNotOptimize()
}
