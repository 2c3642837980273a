package operators

import (
	"fmt"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
)

// Located pins a wrapped operator to an explicit location. It is
// transparent to everything else: every contract call forwards to the
// wrapped operator, and any replacement the wrapped operator produces
// during optimization is re-wrapped so the pin survives the pass.
//
// Wrapping a wrapper replaces the pin rather than stacking.
type Located struct {
	inner operator.Operator
	loc   operator.Location
}

// WrapLocation pins op to loc. Wrapping a pipeline pins every operator
// inside it, so a user forcing "run this fragment remotely" pins each
// step, including ones declared anywhere.
func WrapLocation(op operator.Operator, loc operator.Location) operator.Operator {
	if pipe, ok := op.(*operator.Pipeline); ok {
		ops := pipe.Unwrap()
		wrapped := make([]operator.Operator, len(ops))
		for i, inner := range ops {
			wrapped[i] = WrapLocation(inner, loc)
		}
		return operator.NewPipeline(wrapped...)
	}
	if located, ok := op.(*Located); ok {
		op = located.inner
	}
	return &Located{inner: op, loc: loc}
}

// Unwrap returns the pinned operator.
func (l *Located) Unwrap() operator.Operator { return l.inner }

func (l *Located) Name() string { return l.inner.Name() }

func (l *Located) String() string {
	return fmt.Sprintf("%s( %s )", l.loc, l.inner)
}

func (l *Located) Location() operator.Location { return l.loc }
func (l *Located) Detached() bool              { return l.inner.Detached() }
func (l *Located) Internal() bool              { return l.inner.Internal() }

func (l *Located) InferType(in element.Type) (element.Type, error) {
	return l.inner.InferType(in)
}

func (l *Located) Optimize(filter expr.Predicate, order operator.Order) operator.OptimizeResult {
	res := l.inner.Optimize(filter, order)
	if res.Replacement != nil {
		res.Replacement = WrapLocation(res.Replacement, l.loc)
	}
	return res
}

// Instantiate refuses to run when the wrapped operator's own constraint
// contradicts the pin, unless the deployment explicitly allows unsafe
// pipelines.
func (l *Located) Instantiate(input operator.Input, ctrl operator.Control) (operator.Generator, error) {
	inner := l.inner.Location()
	if !ctrl.AllowUnsafePipelines() && inner != operator.Anywhere && inner != l.loc {
		return nil, diag.Error("operator %q must run %s but is pinned %s", l.inner.Name(), inner, l.loc).
			Kind(diag.KindInvalidConfiguration).
			Note("location overrides must be explicitly allowed by the deployment").
			Done()
	}
	return l.inner.Instantiate(input, ctrl)
}
