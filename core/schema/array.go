package schema

import (
	"net/netip"
	"time"

	"github.com/stromdata/strom/core/invariant"
)

// Array is one immutable column of an events batch. Implementations store
// their values in typed slices; Value boxes on access. Null entries model
// absent values.
//
// Arrays are shared between batches: Slice returns a window over the same
// backing storage.
type Array interface {
	// Len returns the number of rows in the column.
	Len() int
	// Kind returns the leaf kind the column holds.
	Kind() Kind
	// IsNull reports whether row i holds no value.
	IsNull(i int) bool
	// Value returns the boxed value at row i, or nil if null.
	Value(i int) any
	// Slice returns the [begin, end) window of the column.
	Slice(begin, end int) Array
}

// nulls is the shared validity representation: nil means all-valid.
type nulls []bool

func (n nulls) isNull(i int) bool { return n != nil && !n[i] }

func (n nulls) slice(begin, end int) nulls {
	if n == nil {
		return nil
	}
	return n[begin:end]
}

// Int64Array holds signed integer columns.
type Int64Array struct {
	kind   Kind
	values []int64
	valid  nulls
}

// NewInt64Array builds an int64 column. valid may be nil for all-valid.
func NewInt64Array(values []int64, valid []bool) *Int64Array {
	checkValidity(len(values), valid)
	return &Int64Array{kind: KindInt64, values: values, valid: valid}
}

func (a *Int64Array) Len() int         { return len(a.values) }
func (a *Int64Array) Kind() Kind       { return a.kind }
func (a *Int64Array) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *Int64Array) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

// Int64 returns the raw value at row i without boxing.
func (a *Int64Array) Int64(i int) int64 { return a.values[i] }

func (a *Int64Array) Slice(begin, end int) Array {
	return &Int64Array{kind: a.kind, values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// Uint64Array holds unsigned integer columns.
type Uint64Array struct {
	values []uint64
	valid  nulls
}

func NewUint64Array(values []uint64, valid []bool) *Uint64Array {
	checkValidity(len(values), valid)
	return &Uint64Array{values: values, valid: valid}
}

func (a *Uint64Array) Len() int          { return len(a.values) }
func (a *Uint64Array) Kind() Kind        { return KindUint64 }
func (a *Uint64Array) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *Uint64Array) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *Uint64Array) Uint64(i int) uint64 { return a.values[i] }

func (a *Uint64Array) Slice(begin, end int) Array {
	return &Uint64Array{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// Float64Array holds double columns.
type Float64Array struct {
	values []float64
	valid  nulls
}

func NewFloat64Array(values []float64, valid []bool) *Float64Array {
	checkValidity(len(values), valid)
	return &Float64Array{values: values, valid: valid}
}

func (a *Float64Array) Len() int          { return len(a.values) }
func (a *Float64Array) Kind() Kind        { return KindDouble }
func (a *Float64Array) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *Float64Array) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *Float64Array) Float64(i int) float64 { return a.values[i] }

func (a *Float64Array) Slice(begin, end int) Array {
	return &Float64Array{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// StringArray holds string and pattern columns.
type StringArray struct {
	kind   Kind
	values []string
	valid  nulls
}

func NewStringArray(values []string, valid []bool) *StringArray {
	checkValidity(len(values), valid)
	return &StringArray{kind: KindString, values: values, valid: valid}
}

// NewPatternArray builds a pattern column backed by strings.
func NewPatternArray(values []string, valid []bool) *StringArray {
	checkValidity(len(values), valid)
	return &StringArray{kind: KindPattern, values: values, valid: valid}
}

func (a *StringArray) Len() int          { return len(a.values) }
func (a *StringArray) Kind() Kind        { return a.kind }
func (a *StringArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *StringArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *StringArray) String(i int) string { return a.values[i] }

func (a *StringArray) Slice(begin, end int) Array {
	return &StringArray{kind: a.kind, values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// BlobArray holds opaque byte columns.
type BlobArray struct {
	values [][]byte
	valid  nulls
}

func NewBlobArray(values [][]byte, valid []bool) *BlobArray {
	checkValidity(len(values), valid)
	return &BlobArray{values: values, valid: valid}
}

func (a *BlobArray) Len() int          { return len(a.values) }
func (a *BlobArray) Kind() Kind        { return KindBlob }
func (a *BlobArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *BlobArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *BlobArray) Slice(begin, end int) Array {
	return &BlobArray{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// TimeArray holds timestamp columns.
type TimeArray struct {
	values []time.Time
	valid  nulls
}

func NewTimeArray(values []time.Time, valid []bool) *TimeArray {
	checkValidity(len(values), valid)
	return &TimeArray{values: values, valid: valid}
}

func (a *TimeArray) Len() int          { return len(a.values) }
func (a *TimeArray) Kind() Kind        { return KindTime }
func (a *TimeArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *TimeArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *TimeArray) Time(i int) time.Time { return a.values[i] }

func (a *TimeArray) Slice(begin, end int) Array {
	return &TimeArray{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// DurationArray holds duration columns.
type DurationArray struct {
	values []time.Duration
	valid  nulls
}

func NewDurationArray(values []time.Duration, valid []bool) *DurationArray {
	checkValidity(len(values), valid)
	return &DurationArray{values: values, valid: valid}
}

func (a *DurationArray) Len() int          { return len(a.values) }
func (a *DurationArray) Kind() Kind        { return KindDuration }
func (a *DurationArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *DurationArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *DurationArray) Slice(begin, end int) Array {
	return &DurationArray{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// IPArray holds address columns.
type IPArray struct {
	values []netip.Addr
	valid  nulls
}

func NewIPArray(values []netip.Addr, valid []bool) *IPArray {
	checkValidity(len(values), valid)
	return &IPArray{values: values, valid: valid}
}

func (a *IPArray) Len() int          { return len(a.values) }
func (a *IPArray) Kind() Kind        { return KindIP }
func (a *IPArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *IPArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *IPArray) Slice(begin, end int) Array {
	return &IPArray{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// SubnetArray holds subnet columns.
type SubnetArray struct {
	values []netip.Prefix
	valid  nulls
}

func NewSubnetArray(values []netip.Prefix, valid []bool) *SubnetArray {
	checkValidity(len(values), valid)
	return &SubnetArray{values: values, valid: valid}
}

func (a *SubnetArray) Len() int          { return len(a.values) }
func (a *SubnetArray) Kind() Kind        { return KindSubnet }
func (a *SubnetArray) IsNull(i int) bool { return a.valid.isNull(i) }

func (a *SubnetArray) Value(i int) any {
	if a.IsNull(i) {
		return nil
	}
	return a.values[i]
}

func (a *SubnetArray) Slice(begin, end int) Array {
	return &SubnetArray{values: a.values[begin:end], valid: a.valid.slice(begin, end)}
}

// AnyArray holds enum and list columns, boxed. Enum values are variant
// strings; list values are []any.
type AnyArray struct {
	kind   Kind
	values []any
}

func NewAnyArray(kind Kind, values []any) *AnyArray {
	return &AnyArray{kind: kind, values: values}
}

func (a *AnyArray) Len() int          { return len(a.values) }
func (a *AnyArray) Kind() Kind        { return a.kind }
func (a *AnyArray) IsNull(i int) bool { return a.values[i] == nil }
func (a *AnyArray) Value(i int) any   { return a.values[i] }

func (a *AnyArray) Slice(begin, end int) Array {
	return &AnyArray{kind: a.kind, values: a.values[begin:end]}
}

func checkValidity(n int, valid []bool) {
	invariant.Precondition(valid == nil || len(valid) == n,
		"validity bitmap length %d must match value count %d", len(valid), n)
}
