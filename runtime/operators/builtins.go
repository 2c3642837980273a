package operators

import (
	"fmt"

	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
	"github.com/stromdata/strom/runtime/registry"
)

// RegisterBuiltins adds the engine's built-in operators to a registry
// builder. Factories read structured arguments from the invocation; the
// surface parser is responsible for producing them.
func RegisterBuiltins(b *registry.Builder) *registry.Builder {
	b.Register("pass", func(registry.Invocation, registry.Session) (operator.Operator, error) {
		return NewPass(), nil
	})
	b.Register("discard", func(registry.Invocation, registry.Session) (operator.Operator, error) {
		return NewDiscard(), nil
	})
	b.Register("where", func(inv registry.Invocation, _ registry.Session) (operator.Operator, error) {
		pred, ok := inv.Args["predicate"].(expr.Predicate)
		if !ok {
			return nil, fmt.Errorf("where needs a 'predicate' argument")
		}
		return NewWhere(pred), nil
	})
	b.Register("head", func(inv registry.Invocation, _ registry.Session) (operator.Operator, error) {
		limit, ok := inv.Args["limit"].(int)
		if !ok || limit < 0 {
			return nil, fmt.Errorf("head needs a non-negative 'limit' argument")
		}
		return NewHead(limit), nil
	})
	b.Register("values", func(inv registry.Invocation, _ registry.Session) (operator.Operator, error) {
		sc, ok := inv.Args["schema"].(*schema.Type)
		if !ok {
			return nil, fmt.Errorf("values needs a 'schema' argument")
		}
		rows, ok := inv.Args["rows"].([]map[string]any)
		if !ok {
			return nil, fmt.Errorf("values needs a 'rows' argument")
		}
		batchSize, _ := inv.Args["batch_size"].(int)
		return NewValuesRows(sc, rows, batchSize)
	})
	b.Register("local", locationFactory(operator.Local))
	b.Register("remote", locationFactory(operator.Remote))
	return b
}

func locationFactory(loc operator.Location) registry.Factory {
	return func(inv registry.Invocation, _ registry.Session) (operator.Operator, error) {
		op, ok := inv.Args["operator"].(operator.Operator)
		if !ok {
			return nil, fmt.Errorf("%s needs an 'operator' argument", loc)
		}
		return WrapLocation(op, loc), nil
	}
}
