package exec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
)

// State of an execution node.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateDraining
	StateCancelling
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateCancelling:
		return "cancelling"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// OperatorMetricsType is the metric schema every non-internal node emits
// under: elements and bytes forwarded, per output schema.
var OperatorMetricsType = schema.Record("strom.operator",
	schema.F("elements", schema.Uint64()),
	schema.F("bytes", schema.Uint64()),
)

// node is the runtime entity running one operator of a pipeline.
type node struct {
	op       operator.Operator
	index    int
	in       *edge // nil for the source
	out      *edge // nil for the sink
	upstream *node
	ctrl     *controlPlane
	start    chan struct{}
	state    atomic.Int32
	fatal    atomic.Pointer[diag.Diagnostic]
	logger   *slog.Logger
}

func (n *node) setState(s State) {
	old := State(n.state.Swap(int32(s)))
	if old != s {
		n.logger.Debug("execution node state change",
			"operator", n.op.Name(), "index", n.index, "from", old.String(), "to", s.String())
	}
}

// State returns the node's current lifecycle state.
func (n *node) State() State { return State(n.state.Load()) }

// startNow delivers the start signal. Idempotent through the channel's
// one slot.
func (n *node) startNow() {
	select {
	case n.start <- struct{}{}:
	default:
	}
}

// fail records the node's fatal diagnostic. Only the first one sticks.
func (n *node) fail(d diag.Diagnostic) {
	n.fatal.CompareAndSwap(nil, &d)
}

// runLoop is the node's task body. It waits for start, forwards start
// upstream, instantiates the operator, and then drives its generator:
// data and ticks flow downstream until the sequence ends, the run is
// cancelled, or a fatal diagnostic is raised. The returned error is
// non-nil only for fatal failures; cancellation is a clean exit.
func (n *node) runLoop(ctx context.Context) error {
	if n.op.Detached() {
		// Detached operators may block in system calls; give them their
		// own OS thread so they cannot stall cooperative peers.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer n.closeEdges()

	select {
	case <-n.start:
	case <-ctx.Done():
		n.setState(StateTerminated)
		return nil
	}
	// Forwarding start upstream before pulling establishes back-pressure
	// before any source produces.
	if n.upstream != nil {
		n.upstream.startNow()
	}
	n.setState(StateRunning)

	var input operator.Input
	if n.in != nil {
		input = edgeInput{e: n.in, exhausted: func() { n.setState(StateDraining) }}
	} else {
		input = operator.VoidInput{}
	}
	gen, err := n.op.Instantiate(input, n.ctrl)
	if err != nil {
		d := asDiagnostic(err, n.op.Name())
		n.ctrl.Diagnostics().Emit(d)
		n.setState(StateFailed)
		return d
	}
	if closer, ok := gen.(io.Closer); ok {
		// Generators holding external resources (bridge streams) release
		// them when the node exits, and the run force-closes them on
		// cancellation so a peer blocked on the resource wakes up.
		n.ctrl.run.registerCloser(closer)
		defer func() { _ = closer.Close() }()
	}

	for {
		if ctx.Err() != nil {
			n.setState(StateCancelling)
			n.setState(StateTerminated)
			return nil
		}
		if d := n.fatal.Load(); d != nil {
			n.setState(StateFailed)
			return *d
		}
		if n.ctrl.isWaiting() {
			if !n.await(ctx) {
				n.setState(StateCancelling)
				n.setState(StateTerminated)
				return nil
			}
		}
		step, err := gen.Next(ctx)
		if err != nil {
			d := asDiagnostic(err, n.op.Name())
			n.ctrl.Diagnostics().Emit(d)
			n.setState(StateFailed)
			return d
		}
		if d := n.fatal.Load(); d != nil {
			n.setState(StateFailed)
			return *d
		}
		if step.Done {
			if n.State() != StateDraining {
				n.setState(StateDraining)
			}
			n.setState(StateTerminated)
			return nil
		}
		if n.out != nil {
			if !n.out.push(ctx, step.Batch) {
				// Downstream closed; stop pulling and exit cleanly.
				n.setState(StateCancelling)
				n.setState(StateTerminated)
				return nil
			}
		}
		n.emitMetrics(step.Batch)
	}
}

// await parks the node until an external event wakes it. Returns false
// when the run is cancelled instead.
func (n *node) await(ctx context.Context) bool {
	n.setState(StateWaiting)
	defer n.setState(StateRunning)
	for n.ctrl.isWaiting() {
		select {
		case <-n.ctrl.wake:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// closeEdges releases both sides of the node's edges; safe to call in
// any state.
func (n *node) closeEdges() {
	if n.out != nil {
		n.out.closeSend()
	}
	if n.in != nil {
		n.in.closeRecv()
	}
}

// emitMetrics reports elements and bytes forwarded for a non-empty
// batch. Emission is per batch, which satisfies the cadence contract of
// at least once per processed batch.
func (n *node) emitMetrics(b element.Batch) {
	if b == nil || b.Empty() || n.op.Internal() {
		return
	}
	emitter := n.metricsEmitter(b)
	_ = emitter.Emit(map[string]any{
		"elements": uint64(b.Size()),
		"bytes":    uint64(b.ByteSize()),
	})
}

func (n *node) metricsEmitter(b element.Batch) *metrics.Emitter {
	c := n.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()
	var fp schema.Fingerprint
	if sc := b.Schema(); sc != nil {
		fp = sc.Fingerprint()
	}
	if e, ok := c.fwd[fp]; ok {
		return e
	}
	e := metrics.NewEmitter(OperatorMetricsType, metrics.Labels{
		PipelineID:    c.run.id,
		OperatorIndex: c.index,
		OperatorName:  c.opName,
		OutputSchema:  fp,
	}, c.run.metrics)
	c.fwd[fp] = e
	return e
}

// asDiagnostic normalizes an operator error into a fatal diagnostic.
func asDiagnostic(err error, opName string) diag.Diagnostic {
	if d, ok := err.(diag.Diagnostic); ok {
		if d.Kind == diag.KindNone {
			d.Kind = diag.KindRuntimeError
		}
		return d
	}
	return diag.Error("operator %q failed: %v", opName, err).
		Kind(diag.KindRuntimeError).
		Done()
}
