package exec_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/runtime/exec"
	"github.com/stromdata/strom/runtime/operators"
)

func runPipeline(t *testing.T, pipe *operator.Pipeline, cfg exec.Config) (exec.RunResult, *diag.Collector) {
	t.Helper()
	collector := diag.NewCollector()
	x := exec.New(pipe, collector, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return x.Run(ctx), collector
}

func TestRun_EmptyPipelineSucceeds(t *testing.T) {
	result, collector := runPipeline(t, operator.NewPipeline(), exec.Config{})
	assert.False(t, result.Failed())
	assert.False(t, result.Cancelled)
	assert.Equal(t, 0, result.NodesRun)
	assert.Empty(t, collector.All())
}

func TestRun_PassThroughDeliversEventsInOrder(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(
		valuesSource(t, 0, 1, 2, 3),
		sink,
	)
	result, collector := runPipeline(t, pipe, exec.Config{})
	require.False(t, result.Failed(), "diagnostics: %v", collector.All())
	assert.Equal(t, []int64{1, 2, 3}, sink.collected())
}

func TestRun_FilterPushdownDeliversMatchingEvents(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(
		valuesSource(t, 0, 1, 2, 3),
		operators.NewPass(),
		operators.NewWhere(expr.Field("x", expr.OpGt, int64(1))),
		sink,
	)
	result, _ := runPipeline(t, pipe, exec.Config{})
	require.False(t, result.Failed())
	assert.Equal(t, []int64{2, 3}, sink.collected())
}

func TestRun_TypeMismatchSpawnsNoNodes(t *testing.T) {
	pipe := operator.NewPipeline(
		&bytesSource{},
		&collectSink{},
	)
	result, collector := runPipeline(t, pipe, exec.Config{})
	require.True(t, result.Failed())
	assert.Equal(t, diag.KindTypeMismatch, result.Err.Kind)
	assert.Equal(t, 0, result.NodesRun)
	// The diagnostic annotates the offending operator's span.
	first, ok := collector.FirstError()
	require.True(t, ok)
	require.NotEmpty(t, first.Annotations)
}

func TestRun_RuntimeErrorCancelsPipeline(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(
		valuesSource(t, 1, sequence(100)...),
		&failOp{failAt: 5},
		sink,
	)
	result, collector := runPipeline(t, pipe, exec.Config{})

	require.True(t, result.Failed())
	assert.Equal(t, diag.KindRuntimeError, result.Err.Kind)
	assert.LessOrEqual(t, len(sink.collected()), 5)

	errorCount := 0
	for _, d := range collector.All() {
		if d.Severity == diag.SeverityError {
			errorCount++
		}
	}
	assert.Equal(t, 1, errorCount, "exactly one error diagnostic must surface")
}

func TestRun_FirstErrorWins(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(
		valuesSource(t, 1, sequence(50)...),
		&failOp{failAt: 3},
		sink,
	)
	result, _ := runPipeline(t, pipe, exec.Config{})
	require.True(t, result.Failed())
	assert.Contains(t, result.Err.Message, "bad row 3")
}

func TestRun_StopIsIdempotentAndClean(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(&tickingSource{}, sink)
	collector := diag.NewCollector()
	x := exec.New(pipe, collector, exec.Config{})

	done := make(chan exec.RunResult, 1)
	go func() { done <- x.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	x.Stop()
	x.Stop()

	select {
	case result := <-done:
		assert.False(t, result.Failed())
		assert.True(t, result.Cancelled)
		assert.False(t, collector.HasSeenError())
	case <-time.After(10 * time.Second):
		t.Fatal("executor did not stop")
	}
}

func TestRun_NoDiagnosticsAfterCompletion(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(&tickingSource{}, sink)
	collector := diag.NewCollector()
	x := exec.New(pipe, collector, exec.Config{})

	done := make(chan exec.RunResult, 1)
	go func() { done <- x.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	x.Stop()
	<-done

	before := len(collector.All())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, len(collector.All()),
		"no diagnostic may arrive after the run resolved")
}

func TestRun_CooperativeBackPressure(t *testing.T) {
	const credit = 4
	src := &countingSource{total: 10000, batchSize: 100}
	slow := &slowOp{delay: 100 * time.Microsecond}
	sink := &collectSink{}
	pipe := operator.NewPipeline(src, slow, sink)

	collector := diag.NewCollector()
	x := exec.New(pipe, collector, exec.Config{BatchCredit: credit})

	stop := make(chan struct{})
	var maxInFlight atomic.Int64
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			inFlight := (src.produced.Load() - slow.consumed.Load()) / 100
			if inFlight > maxInFlight.Load() {
				maxInFlight.Store(inFlight)
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	result := x.Run(ctx)
	close(stop)

	require.False(t, result.Failed(), "diagnostics: %v", collector.All())
	assert.Equal(t, sequence(10000), sink.collected(), "all events must arrive in order")
	// The edge buffers at most credit batches; producer and consumer each
	// hold at most one more.
	assert.LessOrEqual(t, maxInFlight.Load(), int64(credit+2),
		"in-flight batches must stay within the credit bound")
}

func TestRun_WaitingOperatorResumesOnWake(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(&waitingSource{replyDelay: 30 * time.Millisecond}, sink)
	result, collector := runPipeline(t, pipe, exec.Config{})
	require.False(t, result.Failed(), "diagnostics: %v", collector.All())
	assert.Equal(t, []int64{42}, sink.collected())
}

func TestRun_WarningsDoNotFailTheRun(t *testing.T) {
	sink := &collectSink{}
	warner := &warningOp{}
	pipe := operator.NewPipeline(
		valuesSource(t, 0, 1, 2),
		warner,
		sink,
	)
	result, collector := runPipeline(t, pipe, exec.Config{})
	require.False(t, result.Failed())
	assert.NotEmpty(t, result.Warnings)
	assert.False(t, collector.HasSeenError())
	assert.Equal(t, []int64{1, 2}, sink.collected())
}

func TestRun_MetricsCountForwardedEvents(t *testing.T) {
	sink := &collectSink{}
	receiver := metrics.NewMemoryReceiver()
	pipe := operator.NewPipeline(
		valuesSource(t, 0, 1, 2, 3),
		sink,
	)
	collector := diag.NewCollector()
	x := exec.New(pipe, collector, exec.Config{Metrics: receiver})
	result := x.Run(context.Background())
	require.False(t, result.Failed())
	// The source forwarded three events; the sink forwards none.
	assert.Equal(t, uint64(3), receiver.Total(exec.OperatorMetricsType, "elements"))
}

func TestRun_RemotePinnedStageRunsBehindBridge(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(
		valuesSource(t, 2, sequence(10)...),
		operators.WrapLocation(&passOnly{}, operator.Remote),
		sink,
	)
	result, collector := runPipeline(t, pipe, exec.Config{})
	require.False(t, result.Failed(), "diagnostics: %v", collector.All())
	assert.Equal(t, sequence(10), sink.collected())
	// values | <egress> <ingress> stage collect: the sink declares no
	// placement of its own and stays on the remote side.
	assert.Equal(t, 5, result.NodesRun)
}

func TestRunResult_ReportsDurationAndNodes(t *testing.T) {
	sink := &collectSink{}
	pipe := operator.NewPipeline(valuesSource(t, 0, 1), sink)
	result, _ := runPipeline(t, pipe, exec.Config{})
	assert.Equal(t, 2, result.NodesRun)
	assert.Greater(t, result.Duration, time.Duration(0))
	assert.NotEmpty(t, result.PipelineID)
}
