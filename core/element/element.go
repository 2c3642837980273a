// Package element defines the three element types a pipeline edge can
// carry - void, bytes, events - and the batch values that flow between
// operators.
//
// A pipeline is an ordered list of operators where the output element type
// of an operator always matches the input element type of the next. Every
// element type has a corresponding batch type, which is the unit
// transferred between execution nodes:
//
//   - void:   the start or end of a pipeline; its batch is an empty
//     placeholder used as a keep-alive tick.
//   - bytes:  a stream of opaque bytes; its batch is an immutable
//     reference-counted buffer.
//   - events: a stream of records; its batch is an immutable columnar
//     record batch.
package element

import (
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

// Type identifies one of the three element types.
type Type int

const (
	Void Type = iota
	Bytes
	Events
)

// ID returns the stable runtime identifier of the element type.
func (t Type) ID() int { return int(t) }

// Name returns the element type's name for use in logs.
func (t Type) Name() string {
	switch t {
	case Void:
		return "void"
	case Bytes:
		return "bytes"
	case Events:
		return "events"
	}
	invariant.Unreachable("unknown element type %d", int(t))
	return ""
}

func (t Type) String() string { return t.Name() }

// Batch is the type-erased batch used at execution-node boundaries where
// the static element type is not visible.
//
// Accessor contracts:
//   - a void batch has Size 0, ByteSize 0, and a nil Schema;
//   - a bytes batch has Size and ByteSize equal to its buffer length and
//     a nil Schema;
//   - an events batch has Size equal to its row count and Schema equal to
//     its record schema.
type Batch interface {
	// Elem returns the element type of the batch.
	Elem() Type
	// Size returns the number of elements: 0 for void, the buffer length
	// for bytes, the row count for events.
	Size() int
	// ByteSize returns an estimate of the batch's payload in bytes.
	ByteSize() int
	// Schema returns the record schema for events batches and nil
	// otherwise.
	Schema() *schema.Type
	// Empty reports whether the batch carries no data. Empty batches are
	// liveness ticks and may be dropped by a consumer.
	Empty() bool
}

// Empty returns the canonical empty batch for an element type, used as a
// tick on edges of that type.
func Empty(t Type) Batch {
	switch t {
	case Void:
		return VoidBatch{}
	case Bytes:
		return BytesBatch{}
	case Events:
		return EventsBatch{}
	}
	invariant.Unreachable("unknown element type %d", int(t))
	return nil
}
