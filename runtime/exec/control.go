package exec

import (
	"sync"
	"sync/atomic"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
)

// emptyDirectory is the node directory of an executor configured without
// collaborator components.
type emptyDirectory struct{}

func (emptyDirectory) Lookup(string) (any, bool) { return nil, false }

// controlPlane is the per-node facade handed to Instantiate. It borrows
// the run's shared sinks and adds the operator's identity and suspension
// state.
type controlPlane struct {
	run     *run
	node    *node
	index   int
	opName  string
	hidden  bool
	span    diag.Span
	waiting atomic.Bool
	wake    chan struct{}

	mu       sync.Mutex
	emitters map[schema.Fingerprint]*metrics.Emitter
	// fwd holds the built-in forwarding emitters, keyed by output schema
	// fingerprint; kept apart from operator-declared emitters.
	fwd map[schema.Fingerprint]*metrics.Emitter
}

func newControlPlane(r *run, n *node, index int, opName string, hidden bool, span diag.Span) *controlPlane {
	return &controlPlane{
		run:      r,
		node:     n,
		index:    index,
		opName:   opName,
		hidden:   hidden,
		span:     span,
		wake:     make(chan struct{}, 1),
		emitters: make(map[schema.Fingerprint]*metrics.Emitter),
		fwd:      make(map[schema.Fingerprint]*metrics.Emitter),
	}
}

// Diagnostics returns the sink for the running instance. The sink stamps
// the operator's span onto spanless diagnostics; an error-severity
// emission marks the node fatal and cancels the run.
func (c *controlPlane) Diagnostics() diag.Handler { return (*spanHandler)(c) }

// SharedDiagnostics returns the same sink; it is already safe for
// background goroutines because the run guards its own state with a lock
// and the run's Handler serializes concurrent Emit calls.
func (c *controlPlane) SharedDiagnostics() diag.Handler { return (*spanHandler)(c) }

func (c *controlPlane) Metrics(sc *schema.Type) *metrics.Emitter {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := sc.Fingerprint()
	if e, ok := c.emitters[fp]; ok {
		return e
	}
	e := metrics.NewEmitter(sc, metrics.Labels{
		PipelineID:    c.run.id,
		OperatorIndex: c.index,
		OperatorName:  c.opName,
	}, c.run.metrics)
	c.emitters[fp] = e
	return e
}

func (c *controlPlane) Node() operator.NodeDirectory { return c.run.directory }

func (c *controlPlane) Self() operator.NodeRef { return (*nodeRef)(c) }

func (c *controlPlane) SetWaiting(waiting bool) {
	c.waiting.Store(waiting)
	if !waiting {
		c.signalWake()
	}
}

func (c *controlPlane) isWaiting() bool { return c.waiting.Load() }

func (c *controlPlane) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *controlPlane) AllowUnsafePipelines() bool { return c.run.allowUnsafe }
func (c *controlPlane) Definition() string         { return c.run.definition }
func (c *controlPlane) PipelineID() string         { return c.run.id }
func (c *controlPlane) OperatorIndex() int         { return c.index }
func (c *controlPlane) IsHidden() bool             { return c.hidden }

var _ operator.Control = (*controlPlane)(nil)

// nodeRef lets external collaborators wake a suspended node.
type nodeRef controlPlane

func (r *nodeRef) Wake() {
	c := (*controlPlane)(r)
	c.waiting.Store(false)
	c.signalWake()
}

// spanHandler decorates emitted diagnostics with the operator's span and
// routes them into the run.
type spanHandler controlPlane

func (h *spanHandler) Emit(d diag.Diagnostic) {
	c := (*controlPlane)(h)
	if len(d.Annotations) == 0 && c.span.Valid() {
		d.Annotations = append(d.Annotations, diag.Annotation{
			Span:    c.span,
			Primary: true,
			Text:    c.opName,
		})
	}
	c.run.emit(d, c.node)
}

func (h *spanHandler) HasSeenError() bool {
	return (*controlPlane)(h).run.handler.HasSeenError()
}
