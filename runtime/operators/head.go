package operators

import (
	"context"
	"fmt"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/operator"
)

// Head forwards the first n events and then ends its output sequence,
// which cancels everything upstream.
type Head struct {
	operator.Defaults
	limit int
}

// NewHead builds a head operator with the given row limit.
func NewHead(limit int) *Head {
	invariant.Precondition(limit >= 0, "head limit must not be negative, got %d", limit)
	return &Head{limit: limit}
}

func (*Head) Name() string { return "head" }

func (h *Head) String() string { return fmt.Sprintf("head %d", h.limit) }

func (h *Head) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError(h.Name(), in, "events")
	}
	return element.Events, nil
}

// Optimize blocks filter pushdown: a filter evaluated before head would
// change which rows fall inside the limit. Counting a prefix needs
// ordered input.
func (*Head) Optimize(expr.Predicate, operator.Order) operator.OptimizeResult {
	return operator.DoNotOptimize()
}

func (h *Head) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	remaining := h.limit
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		if remaining == 0 {
			return operator.Done(), nil
		}
		raw, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		events, isEvents := raw.(element.EventsBatch)
		if !isEvents || events.Empty() {
			return operator.Tick(element.Events), nil
		}
		if events.Rows() > remaining {
			events = events.Slice(0, remaining)
		}
		remaining -= events.Rows()
		return operator.Yield(events), nil
	}), nil
}
