// Package optimizer applies the pre-execution rewrite pass: filter
// push-down, order-requirement relaxation, and identity elimination. The
// pass is total - an operator that opts out leaves the pipeline
// semantically unchanged.
package optimizer

import (
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/runtime/operators"
)

// Result is the outcome of the pass.
type Result struct {
	// Pipeline is the rewritten pipeline.
	Pipeline *operator.Pipeline
	// SourceOrder tells the source whether its consumer chain still
	// relies on production order.
	SourceOrder operator.Order
}

// Optimize walks the flattened pipeline from sink to source carrying a
// pending filter and a required order.
//
// Per operator: its Optimize answer replaces it (or elides it), the
// residual filter keeps travelling upstream, and the realized order
// becomes the requirement for the next operator to the left. An operator
// that blocks pushdown (nil residual) gets the pending filter
// materialized as a where operator immediately downstream of it. A
// pending filter that reaches the source unabsorbed materializes after
// the source.
func Optimize(pipe *operator.Pipeline) Result {
	ops := pipe.Unwrap()
	pending := expr.Predicate(expr.True{})
	required := operator.Ordered

	var out []operator.Operator // built right-to-left, reversed at the end
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		res := op.Optimize(pending, required)
		if res.Filter == nil {
			// Pushdown blocked: whatever is still pending must run on this
			// operator's output.
			out = materializePending(out, pending)
			pending = expr.True{}
		} else {
			pending = res.Filter
		}
		switch {
		case res.Elide:
			// Dropped from the pipeline; its filter contribution, if any,
			// already moved into pending.
		case res.Replacement != nil:
			out = append(out, res.Replacement)
		default:
			out = append(out, op)
		}
		required = res.Order
	}
	if !expr.IsTrue(pending) && len(out) > 0 {
		// A filter forwarded all the way lands right after the source, the
		// most upstream entry of out.
		src := out[len(out)-1]
		out = append(out[:len(out)-1], operators.NewWhere(pending), src)
	} else {
		out = materializePending(out, pending)
	}

	reversed := make([]operator.Operator, 0, len(out))
	for i := len(out) - 1; i >= 0; i-- {
		reversed = append(reversed, out[i])
	}
	return Result{
		Pipeline:    operator.NewPipeline(reversed...),
		SourceOrder: required,
	}
}

// materializePending appends a where operator for a non-trivial pending
// filter. The slice is in sink-to-source order, so appending places the
// operator immediately upstream of everything appended so far.
func materializePending(out []operator.Operator, pending expr.Predicate) []operator.Operator {
	if expr.IsTrue(pending) {
		return out
	}
	return append(out, operators.NewWhere(pending))
}

// CheckAndOptimize type-checks the pipeline as a closed void-to-void
// chain and then runs the pass. The optimizer never changes the chain's
// element types, so the check holds for the rewritten pipeline too.
func CheckAndOptimize(pipe *operator.Pipeline) (Result, error) {
	if err := pipe.CheckType(element.Void, element.Void); err != nil {
		return Result{}, err
	}
	return Optimize(pipe.Flattened()), nil
}
