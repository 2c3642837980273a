package element

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

// EventsBuilder accumulates rows and produces an events batch. One
// builder serves one schema; Append validates each value against the leaf
// kind so a malformed row surfaces as an error instead of a corrupt
// column.
type EventsBuilder struct {
	schema *schema.Type
	leaves []schema.Leaf
	cols   []columnBuilder
	rows   int
}

// NewEventsBuilder creates a builder for the given record schema.
func NewEventsBuilder(sc *schema.Type) *EventsBuilder {
	invariant.NotNil(sc, "schema")
	invariant.Precondition(sc.Kind() == schema.KindRecord, "events schema must be a record")
	leaves := sc.Leaves()
	cols := make([]columnBuilder, len(leaves))
	for i, leaf := range leaves {
		cols[i] = newColumnBuilder(leaf.Type)
	}
	return &EventsBuilder{schema: sc, leaves: leaves, cols: cols}
}

// Append adds one row given as a leaf-path-keyed map. Missing keys become
// nulls; a value of the wrong type for its leaf is an error and leaves
// the builder unchanged.
func (b *EventsBuilder) Append(row map[string]any) error {
	for i, leaf := range b.leaves {
		v, ok := row[leaf.Path]
		if !ok || v == nil {
			continue
		}
		if err := b.cols[i].check(v); err != nil {
			// Roll nothing back: checks run before any append.
			return fmt.Errorf("field %q: %w", leaf.Path, err)
		}
	}
	for i := range b.leaves {
		v, ok := row[b.leaves[i].Path]
		if !ok {
			v = nil
		}
		b.cols[i].append(v)
	}
	b.rows++
	return nil
}

// Rows returns the number of rows appended so far.
func (b *EventsBuilder) Rows() int { return b.rows }

// Finish seals the builder into a batch. The builder must not be used
// afterwards.
func (b *EventsBuilder) Finish() EventsBatch {
	cols := make([]schema.Array, len(b.cols))
	for i, cb := range b.cols {
		cols[i] = cb.finish()
	}
	return NewEvents(b.schema, cols)
}

// BuildEvents is the convenience path used by tests and the demo: schema
// plus rows in, batch out.
func BuildEvents(sc *schema.Type, rows []map[string]any) (EventsBatch, error) {
	b := NewEventsBuilder(sc)
	for i, row := range rows {
		if err := b.Append(row); err != nil {
			return EventsBatch{}, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return b.Finish(), nil
}

type columnBuilder struct {
	typ    *schema.Type
	i64    []int64
	u64    []uint64
	f64    []float64
	str    []string
	blob   [][]byte
	times  []time.Time
	durs   []time.Duration
	ips    []netip.Addr
	nets   []netip.Prefix
	boxed  []any
	valid  []bool
	hasNul bool
}

func newColumnBuilder(t *schema.Type) columnBuilder {
	return columnBuilder{typ: t}
}

func (c *columnBuilder) check(v any) error {
	ok := false
	switch c.typ.Kind() {
	case schema.KindInt64:
		_, ok = asInt64(v)
	case schema.KindUint64:
		_, ok = asUint64(v)
	case schema.KindDouble:
		_, ok = asFloat64(v)
	case schema.KindString, schema.KindPattern:
		_, ok = v.(string)
	case schema.KindBlob:
		_, ok = v.([]byte)
	case schema.KindTime:
		_, ok = v.(time.Time)
	case schema.KindDuration:
		_, ok = v.(time.Duration)
	case schema.KindIP:
		_, ok = v.(netip.Addr)
	case schema.KindSubnet:
		_, ok = v.(netip.Prefix)
	case schema.KindEnum:
		s, isStr := v.(string)
		if isStr {
			for _, variant := range c.typ.Variants() {
				if variant == s {
					ok = true
					break
				}
			}
		}
	case schema.KindList:
		_, ok = v.([]any)
	default:
		invariant.Unreachable("record leaf kind %s in column builder", c.typ.Kind())
	}
	if !ok {
		return fmt.Errorf("value %v (%T) does not fit leaf type %s", v, v, c.typ)
	}
	return nil
}

func (c *columnBuilder) append(v any) {
	if v == nil {
		c.hasNul = true
		c.valid = append(c.valid, false)
	} else {
		c.valid = append(c.valid, true)
	}
	switch c.typ.Kind() {
	case schema.KindInt64:
		n, _ := asInt64(v)
		c.i64 = append(c.i64, n)
	case schema.KindUint64:
		n, _ := asUint64(v)
		c.u64 = append(c.u64, n)
	case schema.KindDouble:
		n, _ := asFloat64(v)
		c.f64 = append(c.f64, n)
	case schema.KindString, schema.KindPattern:
		s, _ := v.(string)
		c.str = append(c.str, s)
	case schema.KindBlob:
		bs, _ := v.([]byte)
		c.blob = append(c.blob, bs)
	case schema.KindTime:
		t, _ := v.(time.Time)
		c.times = append(c.times, t)
	case schema.KindDuration:
		d, _ := v.(time.Duration)
		c.durs = append(c.durs, d)
	case schema.KindIP:
		a, _ := v.(netip.Addr)
		c.ips = append(c.ips, a)
	case schema.KindSubnet:
		p, _ := v.(netip.Prefix)
		c.nets = append(c.nets, p)
	case schema.KindEnum, schema.KindList:
		c.boxed = append(c.boxed, v)
	}
}

func (c *columnBuilder) finish() schema.Array {
	valid := c.valid
	if !c.hasNul {
		valid = nil
	}
	switch c.typ.Kind() {
	case schema.KindInt64:
		return schema.NewInt64Array(c.i64, valid)
	case schema.KindUint64:
		return schema.NewUint64Array(c.u64, valid)
	case schema.KindDouble:
		return schema.NewFloat64Array(c.f64, valid)
	case schema.KindString:
		return schema.NewStringArray(c.str, valid)
	case schema.KindPattern:
		return schema.NewPatternArray(c.str, valid)
	case schema.KindBlob:
		return schema.NewBlobArray(c.blob, valid)
	case schema.KindTime:
		return schema.NewTimeArray(c.times, valid)
	case schema.KindDuration:
		return schema.NewDurationArray(c.durs, valid)
	case schema.KindIP:
		return schema.NewIPArray(c.ips, valid)
	case schema.KindSubnet:
		return schema.NewSubnetArray(c.nets, valid)
	case schema.KindEnum, schema.KindList:
		return schema.NewAnyArray(c.typ.Kind(), c.boxed)
	}
	invariant.Unreachable("record leaf kind %s in column builder", c.typ.Kind())
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
