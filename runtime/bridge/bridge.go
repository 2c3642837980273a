package bridge

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/operator"
)

// Transport produces the byte-stream pair backing one bridge. The
// executor holds one transport per run and asks for a pair at every
// location boundary.
type Transport interface {
	// Pair returns the egress-side and ingress-side ends of an ordered,
	// reliable byte stream.
	Pair() (egress io.ReadWriteCloser, ingress io.ReadWriteCloser, err error)
}

// Loopback is the in-process transport: both segments run in the same
// process, connected by a synchronous pipe. It is the default transport
// and the reference for bridge semantics; networked transports plug in
// through the same interface.
type Loopback struct{}

func (Loopback) Pair() (io.ReadWriteCloser, io.ReadWriteCloser, error) {
	a, b := net.Pipe()
	return a, b, nil
}

// Egress is the local half of a bridge: an internal sink that serializes
// its input onto the stream. It suspends once its credit window is
// exhausted and resumes as acks return.
type Egress struct {
	operator.Defaults
	conn   io.ReadWriteCloser
	elem   element.Type
	credit int
}

// NewEgress builds the egress half over an established stream.
func NewEgress(conn io.ReadWriteCloser, elem element.Type, credit int) *Egress {
	invariant.NotNil(conn, "conn")
	invariant.Precondition(credit > 0, "bridge credit must be positive, got %d", credit)
	return &Egress{conn: conn, elem: elem, credit: credit}
}

func (*Egress) Name() string   { return "<egress>" }
func (*Egress) String() string { return "<egress>" }

// Detached: frame writes block on the transport.
func (*Egress) Detached() bool { return true }
func (*Egress) Internal() bool { return true }

func (e *Egress) InferType(in element.Type) (element.Type, error) {
	if in != e.elem {
		return 0, operator.TypeError(e.Name(), in, e.elem.Name())
	}
	return element.Void, nil
}

// Optimize is a hard barrier: bridges never move, absorb, or forward
// anything.
func (*Egress) Optimize(expr.Predicate, operator.Order) operator.OptimizeResult {
	return operator.DoNotOptimize()
}

func (e *Egress) Instantiate(input operator.Input, ctrl operator.Control) (operator.Generator, error) {
	g := &egressGenerator{
		conn:    e.conn,
		input:   input,
		diags:   ctrl.SharedDiagnostics(),
		credits: make(chan struct{}, e.credit),
		closed:  make(chan struct{}),
	}
	for i := 0; i < e.credit; i++ {
		g.credits <- struct{}{}
	}
	// The ack reader runs for the lifetime of the stream and returns
	// credits as the remote side confirms delivery.
	go func() {
		defer close(g.closed)
		for {
			kind, _, err := readFrame(e.conn)
			if err != nil {
				return
			}
			if kind == frameAck {
				select {
				case g.credits <- struct{}{}:
				default:
				}
			}
		}
	}()
	return g, nil
}

type egressGenerator struct {
	conn     io.ReadWriteCloser
	input    operator.Input
	diags    diag.Handler
	credits  chan struct{}
	closed   chan struct{}
	finished bool
}

func (g *egressGenerator) Next(ctx context.Context) (operator.Step, error) {
	if g.finished {
		return operator.Done(), nil
	}
	b, ok := g.input.Pull(ctx)
	if !ok {
		g.finish(true)
		return operator.Done(), nil
	}
	if b == nil || b.Empty() {
		if err := writeFrame(g.conn, frameTick, nil); err != nil {
			g.finish(false)
			return operator.Done(), nil
		}
		return operator.Tick(element.Void), nil
	}
	// One credit per non-empty batch keeps the cross-boundary in-flight
	// count bounded.
	select {
	case <-g.credits:
	case <-g.closed:
		g.finished = true
		return operator.Done(), nil
	case <-ctx.Done():
		g.finished = true
		return operator.Done(), nil
	}
	payload, err := encodeBatch(b)
	if err != nil {
		return operator.Step{}, err
	}
	if err := writeFrame(g.conn, frameBatch, payload); err != nil {
		// The remote side went away; its node reports the reason if
		// there is one. Locally this is the end of the stream.
		g.diags.Emit(diag.Warning("bridge connection lost: %v", err).
			Kind(diag.KindRuntimeWarning).
			Done())
		g.finish(false)
		return operator.Done(), nil
	}
	return operator.Tick(element.Void), nil
}

func (g *egressGenerator) finish(sendDone bool) {
	if g.finished {
		return
	}
	g.finished = true
	if sendDone {
		_ = writeFrame(g.conn, frameDone, nil)
	}
	_ = g.conn.Close()
}

// Close releases the stream; the execution node calls it on exit so a
// peer blocked on the transport wakes up.
func (g *egressGenerator) Close() error {
	g.finished = true
	return g.conn.Close()
}

// Ingress is the remote half of a bridge: an internal source that
// deserializes the stream back into batches and acks each one after
// handing it downstream.
type Ingress struct {
	operator.Defaults
	conn io.ReadWriteCloser
	elem element.Type
}

// NewIngress builds the ingress half over an established stream.
func NewIngress(conn io.ReadWriteCloser, elem element.Type) *Ingress {
	invariant.NotNil(conn, "conn")
	return &Ingress{conn: conn, elem: elem}
}

func (*Ingress) Name() string   { return "<ingress>" }
func (*Ingress) String() string { return "<ingress>" }

// Detached: frame reads block on the transport.
func (*Ingress) Detached() bool { return true }
func (*Ingress) Internal() bool { return true }

func (i *Ingress) InferType(in element.Type) (element.Type, error) {
	if in != element.Void {
		return 0, operator.TypeError(i.Name(), in, "void")
	}
	return i.elem, nil
}

func (*Ingress) Optimize(expr.Predicate, operator.Order) operator.OptimizeResult {
	return operator.DoNotOptimize()
}

func (i *Ingress) Instantiate(operator.Input, operator.Control) (operator.Generator, error) {
	return &ingressGenerator{conn: i.conn, elem: i.elem}, nil
}

type ingressGenerator struct {
	conn        io.ReadWriteCloser
	elem        element.Type
	mu          sync.Mutex
	pendingAcks int
	finished    bool
}

func (g *ingressGenerator) Next(ctx context.Context) (operator.Step, error) {
	if g.finished {
		return operator.Done(), nil
	}
	// The previous batch is downstream by the time the node drives the
	// generator again, so its credit can go home now.
	g.flushAcks()
	if ctx.Err() != nil {
		g.finished = true
		_ = g.conn.Close()
		return operator.Done(), nil
	}
	kind, payload, err := readFrame(g.conn)
	if err != nil {
		// Stream ended without a done frame: the egress was cancelled or
		// the transport failed; either way the sequence is over.
		g.finished = true
		return operator.Done(), nil
	}
	switch kind {
	case frameTick:
		return operator.Tick(g.elem), nil
	case frameDone:
		g.finished = true
		_ = g.conn.Close()
		return operator.Done(), nil
	case frameBatch:
		b, err := decodeBatch(payload)
		if err != nil {
			return operator.Step{}, err
		}
		invariant.Invariant(b.Elem() == g.elem,
			"bridge decoded %s, edge carries %s", b.Elem(), g.elem)
		g.mu.Lock()
		g.pendingAcks++
		g.mu.Unlock()
		return operator.Yield(b), nil
	default:
		// Acks only flow toward the egress; anything else is noise.
		return operator.Tick(g.elem), nil
	}
}

func (g *ingressGenerator) flushAcks() {
	g.mu.Lock()
	n := g.pendingAcks
	g.pendingAcks = 0
	g.mu.Unlock()
	for ; n > 0; n-- {
		if writeFrame(g.conn, frameAck, nil) != nil {
			return
		}
	}
}

// Close releases the stream; the execution node calls it on exit so the
// egress side unblocks.
func (g *ingressGenerator) Close() error {
	g.finished = true
	return g.conn.Close()
}
