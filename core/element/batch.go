package element

import (
	"time"

	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

// VoidBatch is the batch of the void element type: an empty placeholder
// whose only purpose is to advertise liveness.
type VoidBatch struct{}

func (VoidBatch) Elem() Type           { return Void }
func (VoidBatch) Size() int            { return 0 }
func (VoidBatch) ByteSize() int        { return 0 }
func (VoidBatch) Schema() *schema.Type { return nil }
func (VoidBatch) Empty() bool          { return true }

// BytesBatch is an immutable byte buffer with optional release hooks. The
// zero value has a nil buffer, which is semantically "no bytes this tick":
// the operator is alive but produced nothing.
type BytesBatch struct {
	buf       []byte
	disposers []func()
}

// NewBytes wraps a buffer in a batch. The caller must not mutate buf
// afterwards. Disposers run once when Release is called on the last
// holder's behalf.
func NewBytes(buf []byte, disposers ...func()) BytesBatch {
	return BytesBatch{buf: buf, disposers: disposers}
}

func (b BytesBatch) Elem() Type           { return Bytes }
func (b BytesBatch) Size() int            { return len(b.buf) }
func (b BytesBatch) ByteSize() int        { return len(b.buf) }
func (b BytesBatch) Schema() *schema.Type { return nil }
func (b BytesBatch) Empty() bool          { return len(b.buf) == 0 }

// Data returns the underlying buffer. Callers must treat it as read-only.
func (b BytesBatch) Data() []byte { return b.buf }

// Release runs the batch's disposers. The storage owner calls this after
// the last downstream reference is gone.
func (b BytesBatch) Release() {
	for _, d := range b.disposers {
		d()
	}
}

// EventsBatch is an immutable columnar record batch: a schema, an import
// timestamp, and one array per flattened schema leaf, all of equal length.
// The zero value is the canonical empty events tick.
type EventsBatch struct {
	schema     *schema.Type
	cols       []schema.Array
	rows       int
	importTime time.Time
}

// NewEvents builds an events batch and enforces the batch invariants: the
// column count equals the schema's flattened leaf count and every column
// has the same length. Violations abort - they are engine bugs, not user
// errors.
func NewEvents(sc *schema.Type, cols []schema.Array) EventsBatch {
	invariant.NotNil(sc, "schema")
	invariant.Precondition(sc.Kind() == schema.KindRecord, "events schema must be a record, got %s", sc.Kind())
	leaves := sc.Leaves()
	invariant.Invariant(len(cols) == len(leaves),
		"column count %d must equal schema leaf count %d", len(cols), len(leaves))
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}
	for i, col := range cols {
		invariant.Invariant(col.Len() == rows,
			"column %d has length %d, want %d", i, col.Len(), rows)
	}
	return EventsBatch{schema: sc, cols: cols, rows: rows}
}

func (b EventsBatch) Elem() Type { return Events }
func (b EventsBatch) Size() int  { return b.rows }

// ByteSize estimates the payload size. Fixed-width leaves count eight
// bytes per row; variable-width leaves count their actual lengths.
func (b EventsBatch) ByteSize() int {
	total := 0
	for _, col := range b.cols {
		switch col.Kind() {
		case schema.KindString, schema.KindPattern:
			for i := 0; i < col.Len(); i++ {
				if s, ok := col.Value(i).(string); ok {
					total += len(s)
				}
			}
		case schema.KindBlob:
			for i := 0; i < col.Len(); i++ {
				if v, ok := col.Value(i).([]byte); ok {
					total += len(v)
				}
			}
		default:
			total += 8 * col.Len()
		}
	}
	return total
}

func (b EventsBatch) Schema() *schema.Type { return b.schema }
func (b EventsBatch) Empty() bool          { return b.rows == 0 }

// Rows returns the row count.
func (b EventsBatch) Rows() int { return b.rows }

// Column returns the flattened column at index i.
func (b EventsBatch) Column(i int) schema.Array {
	invariant.InRange(i, 0, len(b.cols)-1, "column index")
	return b.cols[i]
}

// Columns returns all flattened columns.
func (b EventsBatch) Columns() []schema.Array { return b.cols }

// ImportTime returns the timestamp assigned at the ingest boundary, or
// the zero time if the batch never crossed one.
func (b EventsBatch) ImportTime() time.Time { return b.importTime }

// WithImportTime returns a copy of the batch carrying the given import
// timestamp. The pipeline sets this once at the ingest boundary; it is
// monotone within a single source.
func (b EventsBatch) WithImportTime(t time.Time) EventsBatch {
	b.importTime = t
	return b
}

// Slice returns the [begin, end) row window of the batch. The window
// shares column storage with the original.
func (b EventsBatch) Slice(begin, end int) EventsBatch {
	invariant.Precondition(0 <= begin && begin <= end && end <= b.rows,
		"slice [%d, %d) out of range for %d rows", begin, end, b.rows)
	cols := make([]schema.Array, len(b.cols))
	for i, col := range b.cols {
		cols[i] = col.Slice(begin, end)
	}
	return EventsBatch{schema: b.schema, cols: cols, rows: end - begin, importTime: b.importTime}
}

// Value returns the boxed value of the given flattened column at a row.
func (b EventsBatch) Value(row, col int) any {
	invariant.InRange(row, 0, b.rows-1, "row index")
	return b.Column(col).Value(row)
}

// Row returns the row as a leaf-path-keyed map. Intended for tests,
// serialization, and diagnostics rather than hot paths.
func (b EventsBatch) Row(i int) map[string]any {
	leaves := b.schema.Leaves()
	out := make(map[string]any, len(leaves))
	for c, leaf := range leaves {
		out[leaf.Path] = b.cols[c].Value(i)
	}
	return out
}
