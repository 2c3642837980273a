package operators

import (
	"context"
	"fmt"
	"time"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
)

// Values is a source that produces a fixed sequence of events batches.
// It stamps each batch with a monotone import time at the ingest
// boundary. The demo command and pipeline tests feed on it; deployments
// use it to smoke-test a pipeline without a connector.
type Values struct {
	operator.Defaults
	schema  *schema.Type
	batches []element.EventsBatch
	// pushdown, when set, lets the optimization pass sink a residual
	// filter into the source instead of materializing a where operator.
	pushdown expr.Predicate
	order    operator.Order
}

// NewValues builds a constant source over pre-built batches sharing one
// schema.
func NewValues(sc *schema.Type, batches ...element.EventsBatch) *Values {
	return &Values{schema: sc, batches: batches}
}

// NewValuesRows builds a constant source from rows, batched as given.
func NewValuesRows(sc *schema.Type, rows []map[string]any, batchSize int) (*Values, error) {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	var batches []element.EventsBatch
	for begin := 0; begin < len(rows); begin += batchSize {
		end := begin + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		b, err := element.BuildEvents(sc, rows[begin:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return &Values{schema: sc, batches: batches}, nil
}

func (*Values) Name() string { return "values" }

func (v *Values) String() string {
	s := fmt.Sprintf("values %s x%d", v.schema.Name(), len(v.batches))
	if !expr.IsTrue(v.pushdown) {
		s += fmt.Sprintf(" [%s]", v.pushdown)
	}
	return s
}

func (v *Values) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError(v.Name(), in, "void")
	}
	return element.Events, nil
}

// Optimize absorbs the residual filter into the source: matching rows are
// selected at production, so nothing downstream re-filters. The realized
// order follows the requirement; the source produces in definition order
// either way.
func (v *Values) Optimize(filter expr.Predicate, order operator.Order) operator.OptimizeResult {
	if expr.IsTrue(filter) && v.order == order {
		return operator.OptimizeResult{Filter: expr.True{}, Order: order}
	}
	replacement := &Values{
		schema:   v.schema,
		batches:  v.batches,
		pushdown: expr.Conjoin(v.pushdown, filter),
		order:    order,
	}
	return operator.OptimizeResult{Replacement: replacement, Filter: expr.True{}, Order: order}
}

// Pushdown returns the filter absorbed during optimization, for
// inspection by tests and the demo.
func (v *Values) Pushdown() expr.Predicate { return v.pushdown }

func (v *Values) Instantiate(_ operator.Input, _ operator.Control) (operator.Generator, error) {
	// The instance owns its own queue; the operator value stays pristine
	// for later runs.
	queue := append([]element.EventsBatch(nil), v.batches...)
	var lastImport time.Time
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		if ctx.Err() != nil || len(queue) == 0 {
			return operator.Done(), nil
		}
		b := queue[0]
		queue = queue[1:]
		if !expr.IsTrue(v.pushdown) {
			runs := matchRuns(b, v.pushdown)
			if len(runs) == 0 {
				return operator.Tick(element.Events), nil
			}
			b = runs[0]
			if len(runs) > 1 {
				queue = append(append([]element.EventsBatch(nil), runs[1:]...), queue...)
			}
		}
		// Import time is monotone within the source.
		now := time.Now()
		if now.Before(lastImport) {
			now = lastImport
		}
		lastImport = now
		return operator.Yield(b.WithImportTime(now)), nil
	}), nil
}
