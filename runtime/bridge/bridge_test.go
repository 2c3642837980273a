package bridge_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
	"github.com/stromdata/strom/runtime/bridge"
)

type nopControl struct {
	diags *diag.Collector
}

func newNopControl() *nopControl { return &nopControl{diags: diag.NewCollector()} }

func (c *nopControl) Diagnostics() diag.Handler       { return c.diags }
func (c *nopControl) SharedDiagnostics() diag.Handler { return c.diags }
func (c *nopControl) Metrics(sc *schema.Type) *metrics.Emitter {
	return metrics.NewEmitter(sc, metrics.Labels{}, metrics.Discard{})
}
func (c *nopControl) Node() operator.NodeDirectory { return nopDir{} }
func (c *nopControl) Self() operator.NodeRef       { return nopRef{} }
func (c *nopControl) SetWaiting(bool)              {}
func (c *nopControl) AllowUnsafePipelines() bool   { return false }
func (c *nopControl) Definition() string           { return "" }
func (c *nopControl) PipelineID() string           { return "test" }
func (c *nopControl) OperatorIndex() int           { return 0 }
func (c *nopControl) IsHidden() bool               { return true }

type nopDir struct{}

func (nopDir) Lookup(string) (any, bool) { return nil, false }

type nopRef struct{}

func (nopRef) Wake() {}

func telemetryType() *schema.Type {
	return schema.Record("telemetry",
		schema.F("seq", schema.Int64()),
		schema.F("src", schema.IP()),
		schema.F("net", schema.Subnet()),
		schema.F("proto", schema.Enum("tcp", "udp")),
		schema.F("latency", schema.Duration()),
		schema.F("seen", schema.Time()),
		schema.F("payload", schema.Blob()),
		schema.F("note", schema.String()),
	)
}

func telemetryBatch(t *testing.T, seqs ...int64) element.EventsBatch {
	t.Helper()
	rows := make([]map[string]any, len(seqs))
	for i, s := range seqs {
		rows[i] = map[string]any{
			"seq":     s,
			"src":     netip.MustParseAddr("10.0.0.7"),
			"net":     netip.MustParsePrefix("10.0.0.0/8"),
			"proto":   "tcp",
			"latency": 42 * time.Millisecond,
			"seen":    time.Unix(1700000000, 123456789).UTC(),
			"payload": []byte{0xde, 0xad},
			"note":    "ok",
		}
	}
	b, err := element.BuildEvents(telemetryType(), rows)
	require.NoError(t, err)
	return b.WithImportTime(time.Unix(1700000100, 0).UTC())
}

// runBridge pushes the given batches through an egress/ingress pair over
// a loopback stream and returns what the ingress yields.
func runBridge(t *testing.T, elem element.Type, batches ...element.Batch) []element.Batch {
	t.Helper()
	connA, connB, err := bridge.Loopback{}.Pair()
	require.NoError(t, err)

	egress := bridge.NewEgress(connA, elem, 4)
	ingress := bridge.NewIngress(connB, elem)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		g, err := egress.Instantiate(operator.NewSliceInput(elem, batches...), newNopControl())
		if err != nil {
			return
		}
		for {
			step, err := g.Next(ctx)
			if err != nil || step.Done {
				return
			}
		}
	}()

	g, err := ingress.Instantiate(operator.VoidInput{}, newNopControl())
	require.NoError(t, err)
	var out []element.Batch
	for {
		step, err := g.Next(ctx)
		require.NoError(t, err)
		if step.Done {
			return out
		}
		if step.Batch != nil && !step.Batch.Empty() {
			out = append(out, step.Batch)
		}
	}
}

func TestBridge_EventsRoundTripPreservesValuesAndOrder(t *testing.T) {
	sent := []element.Batch{
		telemetryBatch(t, 1, 2),
		telemetryBatch(t, 3),
		telemetryBatch(t, 4, 5, 6),
	}
	got := runBridge(t, element.Events, sent...)
	require.Len(t, got, 3)

	var seqs []int64
	for _, b := range got {
		events := b.(element.EventsBatch)
		require.True(t, telemetryType().Equal(events.Schema()),
			"schema must survive the wire")
		for i := 0; i < events.Rows(); i++ {
			seqs = append(seqs, events.Value(i, 0).(int64))
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seqs)

	first := got[0].(element.EventsBatch)
	row := first.Row(0)
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), row["src"])
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), row["net"])
	assert.Equal(t, "tcp", row["proto"])
	assert.Equal(t, 42*time.Millisecond, row["latency"])
	assert.Equal(t, time.Unix(1700000000, 123456789).UTC(), row["seen"])
	assert.Equal(t, []byte{0xde, 0xad}, row["payload"])
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), first.ImportTime())
}

func TestBridge_BytesRoundTrip(t *testing.T) {
	got := runBridge(t, element.Bytes,
		element.NewBytes([]byte("first")),
		element.NewBytes([]byte("second")),
	)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("first"), got[0].(element.BytesBatch).Data())
	assert.Equal(t, []byte("second"), got[1].(element.BytesBatch).Data())
}

func TestBridge_ManyBatchesExceedingCreditWindow(t *testing.T) {
	var sent []element.Batch
	for i := int64(0); i < 50; i++ {
		sent = append(sent, telemetryBatch(t, i))
	}
	got := runBridge(t, element.Events, sent...)
	require.Len(t, got, 50, "acks must keep the window moving")
	for i, b := range got {
		assert.Equal(t, int64(i), b.(element.EventsBatch).Value(0, 0))
	}
}

func TestEgress_InferType(t *testing.T) {
	connA, connB, err := bridge.Loopback{}.Pair()
	require.NoError(t, err)
	defer connA.Close()
	defer connB.Close()

	egress := bridge.NewEgress(connA, element.Events, 1)
	out, err := egress.InferType(element.Events)
	require.NoError(t, err)
	assert.Equal(t, element.Void, out)
	_, err = egress.InferType(element.Bytes)
	require.Error(t, err)

	ingress := bridge.NewIngress(connB, element.Events)
	out, err = ingress.InferType(element.Void)
	require.NoError(t, err)
	assert.Equal(t, element.Events, out)
	assert.True(t, egress.Internal())
	assert.True(t, ingress.Detached())
}

func TestIngress_PeerDisappearingEndsStream(t *testing.T) {
	connA, connB, err := bridge.Loopback{}.Pair()
	require.NoError(t, err)

	ingress := bridge.NewIngress(connB, element.Events)
	g, err := ingress.Instantiate(operator.VoidInput{}, newNopControl())
	require.NoError(t, err)

	go connA.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	step, err := g.Next(ctx)
	require.NoError(t, err)
	assert.True(t, step.Done, "a lost peer must end the sequence, not error")
}
