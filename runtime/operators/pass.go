// Package operators provides the built-in operators the engine itself
// depends on: pass (identity), where (filtering and pushdown
// materialization), head (bounded prefix), discard (void sink), values
// (constant source), and the local/remote location wrappers.
package operators

import (
	"context"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
)

// Pass is the identity operator. It forwards batches untouched and is
// elided by the optimization pass.
type Pass struct {
	operator.Defaults
}

// NewPass returns the identity operator.
func NewPass() *Pass { return &Pass{} }

func (*Pass) Name() string   { return "pass" }
func (*Pass) String() string { return "pass" }

func (*Pass) InferType(in element.Type) (element.Type, error) {
	return in, nil
}

// Optimize lets the pending filter and order requirement through and
// offers itself for elision: identity is neutral under any accumulators.
func (*Pass) Optimize(filter expr.Predicate, order operator.Order) operator.OptimizeResult {
	res := operator.PassThrough(filter, order)
	res.Elide = true
	return res
}

func (*Pass) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		return operator.Yield(b), nil
	}), nil
}
