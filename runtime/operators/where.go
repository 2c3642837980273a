package operators

import (
	"context"
	"fmt"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
)

// Where selects the events matching a predicate. During optimization it
// dissolves into the pending filter, so a chain of filters collapses into
// one conjunction that keeps moving toward the source.
type Where struct {
	operator.Defaults
	pred expr.Predicate
}

// NewWhere builds a filter operator over a predicate.
func NewWhere(pred expr.Predicate) *Where {
	return &Where{pred: pred}
}

// Predicate returns the filter predicate.
func (w *Where) Predicate() expr.Predicate { return w.pred }

func (*Where) Name() string { return "where" }

func (w *Where) String() string { return fmt.Sprintf("where %s", w.pred) }

func (w *Where) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError(w.Name(), in, "events")
	}
	return element.Events, nil
}

// Optimize merges the operator's own predicate into the pending filter
// and removes itself; the combined filter continues upstream. Filtering
// never reorders, so the order requirement passes through.
func (w *Where) Optimize(filter expr.Predicate, order operator.Order) operator.OptimizeResult {
	return operator.OptimizeResult{
		Elide:  true,
		Filter: expr.Conjoin(w.pred, filter),
		Order:  order,
	}
}

func (w *Where) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	g := &whereGenerator{input: input, pred: w.pred}
	return g, nil
}

// whereGenerator yields the matching row runs of each input batch as
// zero-copy slices, preserving order. Between input batches it forwards
// ticks.
type whereGenerator struct {
	input   operator.Input
	pred    expr.Predicate
	pending []element.EventsBatch
}

func (g *whereGenerator) Next(ctx context.Context) (operator.Step, error) {
	for {
		if len(g.pending) > 0 {
			b := g.pending[0]
			g.pending = g.pending[1:]
			return operator.Yield(b), nil
		}
		raw, ok := g.input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		events, isEvents := raw.(element.EventsBatch)
		if !isEvents || events.Empty() {
			return operator.Tick(element.Events), nil
		}
		// A predicate that does not tailor to this schema matches nothing.
		if !expr.Tailor(g.pred, events.Schema()) {
			return operator.Tick(element.Events), nil
		}
		g.pending = matchRuns(events, g.pred)
		if len(g.pending) == 0 {
			return operator.Tick(element.Events), nil
		}
	}
}

// matchRuns slices a batch into its contiguous runs of matching rows.
func matchRuns(b element.EventsBatch, pred expr.Predicate) []element.EventsBatch {
	var out []element.EventsBatch
	sc := b.Schema()
	cols := b.Columns()
	runStart := -1
	for row := 0; row < b.Rows(); row++ {
		if expr.EvalRow(pred, sc, cols, row) {
			if runStart < 0 {
				runStart = row
			}
			continue
		}
		if runStart >= 0 {
			out = append(out, b.Slice(runStart, row))
			runStart = -1
		}
	}
	if runStart >= 0 {
		out = append(out, b.Slice(runStart, b.Rows()))
	}
	return out
}
