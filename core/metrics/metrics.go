// Package metrics carries typed, per-schema metric records from running
// operators to a receiver. Emitters are handed out through the control
// plane; each one is bound to a declared metric schema and to the
// identity of the emitting operator, and rejects records that do not fit
// the schema.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

// Labels identifies the emitting operator and the schema of the batches
// it measures. The metric schema of a record comes from the record itself.
type Labels struct {
	PipelineID    string
	OperatorIndex int
	OperatorName  string
	// OutputSchema is the fingerprint of the schema the measured batches
	// carry, or the zero value for schema-less metrics.
	OutputSchema schema.Fingerprint
}

// Record is one metric sample: the declared metric schema, a leaf-path
// keyed value map, and the emission time.
type Record struct {
	Schema *schema.Type
	Values map[string]any
	Time   time.Time
}

// Receiver accepts metric records. One receiver serves one executor run;
// implementations must tolerate concurrent Receive calls.
type Receiver interface {
	Receive(labels Labels, rec Record)
}

// Emitter validates and forwards records of one metric schema.
type Emitter struct {
	schema *schema.Type
	labels Labels
	sink   Receiver
	now    func() time.Time
}

// NewEmitter binds a metric schema and operator identity to a receiver.
func NewEmitter(sc *schema.Type, labels Labels, sink Receiver) *Emitter {
	invariant.NotNil(sc, "schema")
	invariant.NotNil(sink, "sink")
	return &Emitter{schema: sc, labels: labels, sink: sink, now: time.Now}
}

// Schema returns the emitter's declared metric schema.
func (e *Emitter) Schema() *schema.Type { return e.schema }

// Emit validates values against the declared schema and forwards the
// record. Unknown keys are rejected so a typo cannot silently drop a
// measurement.
func (e *Emitter) Emit(values map[string]any) error {
	for key := range values {
		if _, ok := e.schema.LeafIndex(key); !ok {
			return fmt.Errorf("metric record key %q is not a leaf of schema %s", key, e.schema)
		}
	}
	e.sink.Receive(e.labels, Record{Schema: e.schema, Values: values, Time: e.now()})
	return nil
}

// MemoryReceiver retains records for inspection. Used by tests and the
// demo command.
type MemoryReceiver struct {
	mu   sync.Mutex
	recs []struct {
		Labels Labels
		Record Record
	}
}

// NewMemoryReceiver returns an empty in-memory receiver.
func NewMemoryReceiver() *MemoryReceiver { return &MemoryReceiver{} }

func (m *MemoryReceiver) Receive(labels Labels, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, struct {
		Labels Labels
		Record Record
	}{labels, rec})
}

// Total sums the numeric value at the given leaf path across all records
// matching the metric schema fingerprint.
func (m *MemoryReceiver) Total(sc *schema.Type, path string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp := sc.Fingerprint()
	var total uint64
	for _, r := range m.recs {
		if r.Record.Schema.Fingerprint() != fp {
			continue
		}
		switch v := r.Record.Values[path].(type) {
		case uint64:
			total += v
		case int64:
			total += uint64(v)
		case int:
			total += uint64(v)
		}
	}
	return total
}

// Count returns the number of received records.
func (m *MemoryReceiver) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Receive(Labels, Record) {}
