package exec_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
	"github.com/stromdata/strom/runtime/operators"
)

func eventType() *schema.Type {
	return schema.Record("event", schema.F("x", schema.Int64()))
}

// valuesSource builds a values operator over sequential x values.
func valuesSource(t *testing.T, batchSize int, values ...int64) *operators.Values {
	t.Helper()
	rows := make([]map[string]any, len(values))
	for i, v := range values {
		rows[i] = map[string]any{"x": v}
	}
	src, err := operators.NewValuesRows(eventType(), rows, batchSize)
	require.NoError(t, err)
	return src
}

func sequence(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

// collectSink gathers every event reaching the end of the pipeline.
type collectSink struct {
	operator.Defaults
	mu   sync.Mutex
	rows []int64
}

func (*collectSink) Name() string   { return "collect" }
func (*collectSink) String() string { return "collect" }

func (s *collectSink) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError("collect", in, "events")
	}
	return element.Void, nil
}

func (s *collectSink) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		if events, isEvents := b.(element.EventsBatch); isEvents && !events.Empty() {
			s.mu.Lock()
			for i := 0; i < events.Rows(); i++ {
				s.rows = append(s.rows, events.Value(i, 0).(int64))
			}
			s.mu.Unlock()
		}
		return operator.Tick(element.Void), nil
	}), nil
}

func (s *collectSink) collected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.rows...)
}

// failOp forwards events until it has seen failAt rows, then raises a
// runtime error.
type failOp struct {
	operator.Defaults
	failAt int
}

func (*failOp) Name() string   { return "fail_on_row" }
func (*failOp) String() string { return "fail_on_row" }

func (f *failOp) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError("fail_on_row", in, "events")
	}
	return element.Events, nil
}

func (f *failOp) Instantiate(input operator.Input, ctrl operator.Control) (operator.Generator, error) {
	seen := 0
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		events, isEvents := b.(element.EventsBatch)
		if !isEvents || events.Empty() {
			return operator.Tick(element.Events), nil
		}
		seen += events.Rows()
		if seen >= f.failAt {
			ctrl.Diagnostics().Emit(diag.Error("bad row %d", f.failAt).
				Kind(diag.KindRuntimeError).
				Done())
			return operator.Tick(element.Events), nil
		}
		return operator.Yield(events), nil
	}), nil
}

// slowOp forwards events with a per-batch delay, counting the rows it
// consumed.
type slowOp struct {
	operator.Defaults
	delay    time.Duration
	consumed atomic.Int64
}

func (*slowOp) Name() string   { return "slow" }
func (*slowOp) String() string { return "slow" }

func (o *slowOp) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError("slow", in, "events")
	}
	return element.Events, nil
}

func (o *slowOp) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		events, isEvents := b.(element.EventsBatch)
		if !isEvents || events.Empty() {
			return operator.Tick(element.Events), nil
		}
		o.consumed.Add(int64(events.Rows()))
		if o.delay > 0 {
			select {
			case <-time.After(o.delay):
			case <-ctx.Done():
			}
		}
		return operator.Yield(events), nil
	}), nil
}

// countingSource produces n sequential events in fixed-size batches and
// counts the rows already pushed downstream.
type countingSource struct {
	operator.Defaults
	total     int
	batchSize int
	produced  atomic.Int64
}

func (*countingSource) Name() string   { return "count_source" }
func (*countingSource) String() string { return "count_source" }

func (s *countingSource) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError("count_source", in, "void")
	}
	return element.Events, nil
}

func (s *countingSource) Instantiate(_ operator.Input, _ operator.Control) (operator.Generator, error) {
	next := 0
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		if ctx.Err() != nil || next >= s.total {
			return operator.Done(), nil
		}
		end := next + s.batchSize
		if end > s.total {
			end = s.total
		}
		rows := make([]map[string]any, 0, end-next)
		for ; next < end; next++ {
			rows = append(rows, map[string]any{"x": int64(next)})
		}
		b, err := element.BuildEvents(eventType(), rows)
		if err != nil {
			return operator.Step{}, err
		}
		s.produced.Add(int64(b.Rows()))
		return operator.Yield(b), nil
	}), nil
}

// tickingSource yields ticks and the occasional batch forever; only
// cancellation ends it.
type tickingSource struct {
	operator.Defaults
}

func (*tickingSource) Name() string   { return "ticking" }
func (*tickingSource) String() string { return "ticking" }

func (s *tickingSource) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError("ticking", in, "void")
	}
	return element.Events, nil
}

func (s *tickingSource) Instantiate(_ operator.Input, _ operator.Control) (operator.Generator, error) {
	i := 0
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		if ctx.Err() != nil {
			return operator.Done(), nil
		}
		i++
		if i%10 == 0 {
			b, err := element.BuildEvents(eventType(), []map[string]any{{"x": int64(i)}})
			if err != nil {
				return operator.Step{}, err
			}
			return operator.Yield(b), nil
		}
		time.Sleep(100 * time.Microsecond)
		return operator.Tick(element.Events), nil
	}), nil
}

// waitingSource suspends itself on an external reply before producing.
type waitingSource struct {
	operator.Defaults
	replyDelay time.Duration
}

func (*waitingSource) Name() string   { return "waiting_source" }
func (*waitingSource) String() string { return "waiting_source" }

func (s *waitingSource) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError("waiting_source", in, "void")
	}
	return element.Events, nil
}

func (s *waitingSource) Instantiate(_ operator.Input, ctrl operator.Control) (operator.Generator, error) {
	stage := 0
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		switch stage {
		case 0:
			stage = 1
			ctrl.SetWaiting(true)
			self := ctrl.Self()
			delay := s.replyDelay
			go func() {
				// The external reply arrives later and wakes the node.
				time.Sleep(delay)
				ctrl.SetWaiting(false)
				self.Wake()
			}()
			return operator.Tick(element.Events), nil
		case 1:
			stage = 2
			b, err := element.BuildEvents(eventType(), []map[string]any{{"x": int64(42)}})
			if err != nil {
				return operator.Step{}, err
			}
			return operator.Yield(b), nil
		default:
			return operator.Done(), nil
		}
	}), nil
}

// passOnly forwards events and opts out of optimization, so pinned
// stages survive the optimizer in bridge tests.
type passOnly struct {
	operator.Defaults
}

func (*passOnly) Name() string   { return "stage" }
func (*passOnly) String() string { return "stage" }

func (*passOnly) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError("stage", in, "events")
	}
	return element.Events, nil
}

func (*passOnly) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		return operator.Yield(b), nil
	}), nil
}

// warningOp emits one recoverable warning and forwards everything.
type warningOp struct {
	operator.Defaults
}

func (*warningOp) Name() string   { return "warner" }
func (*warningOp) String() string { return "warner" }

func (*warningOp) InferType(in element.Type) (element.Type, error) {
	if in != element.Events {
		return 0, operator.TypeError("warner", in, "events")
	}
	return element.Events, nil
}

func (w *warningOp) Instantiate(input operator.Input, ctrl operator.Control) (operator.Generator, error) {
	warned := false
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		b, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		if !warned {
			warned = true
			ctrl.Diagnostics().Emit(diag.Warning("skipped a malformed row").
				Kind(diag.KindRuntimeWarning).
				Done())
		}
		return operator.Yield(b), nil
	}), nil
}

// bytesSource exists to build ill-typed pipelines against collectSink.
type bytesSource struct {
	operator.Defaults
}

func (*bytesSource) Name() string   { return "source_bytes" }
func (*bytesSource) String() string { return "source_bytes" }

func (*bytesSource) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError("source_bytes", in, "void")
	}
	return element.Bytes, nil
}

func (*bytesSource) Instantiate(operator.Input, operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(context.Context) (operator.Step, error) {
		return operator.Done(), nil
	}), nil
}
