package operators_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
)

// testControl is a minimal control plane for driving operators outside a
// running pipeline.
type testControl struct {
	diags       *diag.Collector
	allowUnsafe bool
}

func newTestControl() *testControl {
	return &testControl{diags: diag.NewCollector()}
}

func (c *testControl) Diagnostics() diag.Handler       { return c.diags }
func (c *testControl) SharedDiagnostics() diag.Handler { return c.diags }

func (c *testControl) Metrics(sc *schema.Type) *metrics.Emitter {
	return metrics.NewEmitter(sc, metrics.Labels{}, metrics.Discard{})
}

func (c *testControl) Node() operator.NodeDirectory { return nopDirectory{} }
func (c *testControl) Self() operator.NodeRef       { return nopRef{} }
func (c *testControl) SetWaiting(bool)              {}
func (c *testControl) AllowUnsafePipelines() bool   { return c.allowUnsafe }
func (c *testControl) Definition() string           { return "" }
func (c *testControl) PipelineID() string           { return "test" }
func (c *testControl) OperatorIndex() int           { return 0 }
func (c *testControl) IsHidden() bool               { return false }

type nopDirectory struct{}

func (nopDirectory) Lookup(string) (any, bool) { return nil, false }

type nopRef struct{}

func (nopRef) Wake() {}

func eventType() *schema.Type {
	return schema.Record("event",
		schema.F("x", schema.Int64()),
	)
}

func eventBatch(t *testing.T, values ...int64) element.EventsBatch {
	t.Helper()
	rows := make([]map[string]any, len(values))
	for i, v := range values {
		rows[i] = map[string]any{"x": v}
	}
	b, err := element.BuildEvents(eventType(), rows)
	require.NoError(t, err)
	return b
}

// drain runs a generator to completion and returns the non-empty events
// batches it yielded.
func drain(t *testing.T, g operator.Generator) []element.EventsBatch {
	t.Helper()
	var out []element.EventsBatch
	ctx := context.Background()
	for i := 0; i < 10000; i++ {
		step, err := g.Next(ctx)
		require.NoError(t, err)
		if step.Done {
			return out
		}
		if step.Batch != nil && !step.Batch.Empty() {
			out = append(out, step.Batch.(element.EventsBatch))
		}
	}
	t.Fatal("generator did not finish")
	return nil
}

// flatten extracts the x column of all batches in order.
func flatten(batches []element.EventsBatch) []int64 {
	var out []int64
	for _, b := range batches {
		for i := 0; i < b.Rows(); i++ {
			out = append(out, b.Value(i, 0).(int64))
		}
	}
	return out
}
