package exec

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/runtime/bridge"
	"github.com/stromdata/strom/runtime/optimizer"
)

// Config tunes one executor. The zero value is usable: local process
// location, default credit, discarded metrics, no collaborators.
type Config struct {
	// BatchCredit bounds non-empty batches in flight per edge; 0 means
	// DefaultBatchCredit.
	BatchCredit int
	// ShutdownDeadline bounds the wait for node exits after a stop or
	// failure; 0 means 3s. Nodes blocked in non-interruptible system
	// calls are abandoned when it elapses.
	ShutdownDeadline time.Duration
	// AllowUnsafePipelines permits explicit location overrides.
	AllowUnsafePipelines bool
	// Location is the process's own placement; operators pinned
	// elsewhere run behind a bridge. The zero value is Local because
	// Anywhere is not a process location.
	Location operator.Location
	// Logger receives node lifecycle logs; nil means slog.Default().
	Logger *slog.Logger
	// Metrics receives per-operator forwarding metrics; nil discards.
	Metrics metrics.Receiver
	// Node is the collaborator component directory; nil resolves
	// nothing.
	Node operator.NodeDirectory
	// Transport backs location bridges; nil means the in-process
	// loopback.
	Transport bridge.Transport
}

func (c Config) withDefaults() Config {
	if c.BatchCredit == 0 {
		c.BatchCredit = DefaultBatchCredit
	}
	if c.ShutdownDeadline == 0 {
		c.ShutdownDeadline = 3 * time.Second
	}
	if c.Location == operator.Anywhere {
		c.Location = operator.Local
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Discard{}
	}
	if c.Node == nil {
		c.Node = emptyDirectory{}
	}
	if c.Transport == nil {
		c.Transport = bridge.Loopback{}
	}
	return c
}

// RunResult is the completion value of a pipeline run.
type RunResult struct {
	PipelineID string
	// Err is the first fatal diagnostic, or nil for a clean or cancelled
	// run.
	Err *diag.Diagnostic
	// Warnings accumulated before completion or failure.
	Warnings []diag.Diagnostic
	// Cancelled reports that Stop (or context cancellation) ended the
	// run; not an error.
	Cancelled bool
	Duration  time.Duration
	NodesRun  int
}

// Failed reports whether the run ended with a fatal diagnostic.
func (r RunResult) Failed() bool { return r.Err != nil }

// Executor runs one pipeline once. It type-checks and optimizes the
// pipeline, spawns one execution node per operator - bridged across
// location boundaries - monitors them, and resolves with a RunResult.
type Executor struct {
	pipe    *operator.Pipeline
	handler diag.Handler
	cfg     Config
	id      string

	stopOnce sync.Once
	stopped  chan struct{}
}

// New prepares an executor for a pipeline. The diagnostic handler
// receives every diagnostic of the run, warnings included.
func New(pipe *operator.Pipeline, handler diag.Handler, cfg Config) *Executor {
	invariant.NotNil(pipe, "pipeline")
	invariant.NotNil(handler, "handler")
	id, err := shortid.Generate()
	if err != nil {
		id = "pipeline"
	}
	return &Executor{
		pipe:    pipe,
		handler: handler,
		cfg:     cfg.withDefaults(),
		id:      id,
		stopped: make(chan struct{}),
	}
}

// PipelineID returns the identifier of this run.
func (x *Executor) PipelineID() string { return x.id }

// Stop requests cooperative cancellation. Idempotent: stopping twice has
// the same effect as stopping once.
func (x *Executor) Stop() {
	x.stopOnce.Do(func() { close(x.stopped) })
}

// run is the shared state of one execution: diagnostic routing, metric
// sink, identity, and the first-error latch.
type run struct {
	id          string
	definition  string
	handler     diag.Handler
	metrics     metrics.Receiver
	directory   operator.NodeDirectory
	allowUnsafe bool
	cancel      context.CancelFunc

	mu       sync.Mutex
	firstErr *diag.Diagnostic
	warnings []diag.Diagnostic
	done     bool
	closers  []io.Closer
}

// emit routes a diagnostic from a node into the run. The first
// error-severity diagnostic wins the run's failure slot and cancels
// everything; later errors are not surfaced over it. Nothing is emitted
// after the run completed.
func (r *run) emit(d diag.Diagnostic, n *node) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	fatal := d.Severity == diag.SeverityError
	if fatal && r.firstErr == nil {
		cp := d
		r.firstErr = &cp
	}
	if d.Severity == diag.SeverityWarning {
		r.warnings = append(r.warnings, d)
	}
	r.mu.Unlock()
	r.handler.Emit(d)
	if fatal {
		if n != nil {
			n.fail(d)
		}
		r.cancel()
	}
}

// seal stops all further emission for the run.
func (r *run) seal() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
}

func (r *run) registerCloser(c io.Closer) {
	r.mu.Lock()
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

func (r *run) closeAll() {
	r.mu.Lock()
	closers := append([]io.Closer(nil), r.closers...)
	r.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
}

// Run executes the pipeline to completion. It blocks; drive it from a
// goroutine to use Stop.
func (x *Executor) Run(ctx context.Context) RunResult {
	started := time.Now()
	result := RunResult{PipelineID: x.id}

	opt, err := optimizer.CheckAndOptimize(x.pipe)
	if err != nil {
		d := asDiagnostic(err, "pipeline")
		x.handler.Emit(d)
		result.Err = &d
		result.Duration = time.Since(started)
		return result
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{
		id:          x.id,
		definition:  opt.Pipeline.String(),
		handler:     x.handler,
		metrics:     x.cfg.Metrics,
		directory:   x.cfg.Node,
		allowUnsafe: x.cfg.AllowUnsafePipelines,
		cancel:      cancel,
	}

	nodes, err := x.buildNodes(opt.Pipeline, r)
	if err != nil {
		d := asDiagnostic(err, "executor")
		x.handler.Emit(d)
		result.Err = &d
		result.Duration = time.Since(started)
		return result
	}
	result.NodesRun = len(nodes)
	if len(nodes) == 0 {
		// The empty pipeline is void-to-void and completes immediately.
		result.Duration = time.Since(started)
		return result
	}

	g, groupCtx := errgroup.WithContext(runCtx)
	for _, n := range nodes {
		n := n
		g.Go(func() error { return n.runLoop(groupCtx) })
	}
	// Stop requests and abandoned-peer cleanup both funnel through
	// cancellation.
	go func() {
		select {
		case <-x.stopped:
			cancel()
		case <-runCtx.Done():
		}
	}()
	go func() {
		<-runCtx.Done()
		r.closeAll()
	}()

	// Start flows sink-first; each node forwards it upstream before its
	// first pull, so back-pressure exists before the source produces.
	nodes[len(nodes)-1].startNow()

	waitErr := x.await(runCtx, g)
	r.seal()

	stopRequested := false
	select {
	case <-x.stopped:
		stopRequested = true
	default:
		stopRequested = ctx.Err() != nil
	}

	r.mu.Lock()
	result.Err = r.firstErr
	result.Warnings = append([]diag.Diagnostic(nil), r.warnings...)
	r.mu.Unlock()
	if result.Err == nil && waitErr != nil && !stopRequested {
		// A node failed without routing a diagnostic first; normalize.
		d := asDiagnostic(waitErr, "executor")
		x.handler.Emit(d)
		result.Err = &d
	}
	result.Cancelled = result.Err == nil && stopRequested
	result.Duration = time.Since(started)
	return result
}

// await waits for the node group, bounded by the shutdown deadline once
// cancellation is underway.
func (x *Executor) await(runCtx context.Context, g *errgroup.Group) error {
	waitCh := make(chan error, 1)
	go func() { waitCh <- g.Wait() }()
	select {
	case err := <-waitCh:
		return err
	case <-runCtx.Done():
	}
	select {
	case err := <-waitCh:
		return err
	case <-time.After(x.cfg.ShutdownDeadline):
		x.cfg.Logger.Warn("shutdown deadline elapsed; abandoning execution nodes",
			"pipeline", x.id, "deadline", x.cfg.ShutdownDeadline)
		return errors.New("shutdown deadline elapsed")
	}
}

// buildNodes turns the optimized operator sequence into wired execution
// nodes, inserting a bridge pair wherever the placement side changes.
func (x *Executor) buildNodes(pipe *operator.Pipeline, r *run) ([]*node, error) {
	ops := pipe.Unwrap()
	specs, err := x.placeOperators(pipe, ops)
	if err != nil {
		return nil, err
	}

	nodes := make([]*node, len(specs))
	var prevEdge *edge
	for i, spec := range specs {
		n := &node{
			op:     spec.op,
			index:  i,
			logger: x.cfg.Logger,
			start:  make(chan struct{}, 1),
		}
		n.ctrl = newControlPlane(r, n, i, spec.op.Name(), spec.op.Internal(), spec.span)
		if spec.bridgeIn {
			// The conn, not an edge, feeds this node.
			n.in = nil
		} else if i > 0 {
			n.in = prevEdge
		}
		if spec.bridgeOut {
			n.out = nil
			prevEdge = nil
		} else if i < len(specs)-1 {
			n.out = newEdge(spec.outElem, x.cfg.BatchCredit)
			prevEdge = n.out
		}
		if i > 0 {
			n.upstream = nodes[i-1]
		}
		nodes[i] = n
	}
	return nodes, nil
}

// nodeSpec is one placed operator: the operator, its span in the
// definition, its output element type, and whether a bridge replaces its
// input or output edge.
type nodeSpec struct {
	op        operator.Operator
	span      diag.Span
	outElem   element.Type
	bridgeIn  bool
	bridgeOut bool
}

// placeOperators computes each operator's placement side and splices in
// egress/ingress pairs at every boundary. Operators declaring Anywhere
// inherit the side of their upstream neighbor.
func (x *Executor) placeOperators(pipe *operator.Pipeline, ops []operator.Operator) ([]nodeSpec, error) {
	specs := make([]nodeSpec, 0, len(ops)+2)
	side := x.cfg.Location
	cur := element.Void
	for i, op := range ops {
		next, err := op.InferType(cur)
		invariant.ExpectNoError(err, "type inference on a checked pipeline")
		opSide := side
		if loc := op.Location(); loc != operator.Anywhere {
			opSide = loc
		}
		if opSide != side {
			// Crossing a location boundary: serialize on the old side,
			// deserialize on the new one. A boundary on a void edge has
			// nothing to carry; switching sides is enough.
			if cur != element.Void {
				conn1, conn2, err := x.cfg.Transport.Pair()
				if err != nil {
					return nil, errors.Wrap(err, "establish bridge transport")
				}
				specs = append(specs,
					nodeSpec{
						op:        bridge.NewEgress(conn1, cur, x.cfg.BatchCredit),
						outElem:   element.Void,
						bridgeOut: true,
					},
					nodeSpec{
						op:       bridge.NewIngress(conn2, cur),
						outElem:  cur,
						bridgeIn: true,
					},
				)
			}
			side = opSide
		}
		specs = append(specs, nodeSpec{
			op:      op,
			span:    pipe.OperatorSpan(i),
			outElem: next,
		})
		cur = next
	}
	return specs, nil
}
