// Package schema models the event type system behind events batches: named
// record types with typed leaves, flattening, and a content-derived
// fingerprint used for routing and metric labels.
package schema

import (
	"fmt"
	"strings"

	"github.com/stromdata/strom/core/invariant"
)

// Kind enumerates the leaf and container kinds a schema can carry.
type Kind int

const (
	KindInt64 Kind = iota
	KindUint64
	KindDouble
	KindDuration
	KindTime
	KindString
	KindBlob
	KindEnum
	KindIP
	KindSubnet
	KindPattern
	KindList
	KindRecord
)

var kindNames = map[Kind]string{
	KindInt64:    "int64",
	KindUint64:   "uint64",
	KindDouble:   "double",
	KindDuration: "duration",
	KindTime:     "time",
	KindString:   "string",
	KindBlob:     "blob",
	KindEnum:     "enum",
	KindIP:       "ip",
	KindSubnet:   "subnet",
	KindPattern:  "pattern",
	KindList:     "list",
	KindRecord:   "record",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		invariant.Unreachable("unknown schema kind %d", int(k))
	}
	return name
}

// Attribute is a key-value annotation on a type. Attributes take part in
// the fingerprint: two otherwise identical types with different attributes
// are different schemas.
type Attribute struct {
	Key   string
	Value string
}

// Field is a named member of a record type.
type Field struct {
	Name string
	Type *Type
}

// Type is an immutable schema type. The zero value is not usable; build
// types through the constructors and With* methods, which copy.
type Type struct {
	kind     Kind
	name     string
	fields   []Field  // record only
	elem     *Type    // list only
	variants []string // enum only
	attrs    []Attribute
}

// Leaf constructors.

func Int64() *Type    { return &Type{kind: KindInt64} }
func Uint64() *Type   { return &Type{kind: KindUint64} }
func Double() *Type   { return &Type{kind: KindDouble} }
func Duration() *Type { return &Type{kind: KindDuration} }
func Time() *Type     { return &Type{kind: KindTime} }
func String() *Type   { return &Type{kind: KindString} }
func Blob() *Type     { return &Type{kind: KindBlob} }
func IP() *Type       { return &Type{kind: KindIP} }
func Subnet() *Type   { return &Type{kind: KindSubnet} }
func Pattern() *Type  { return &Type{kind: KindPattern} }

// Enum constructs an enumeration over the given variants.
func Enum(variants ...string) *Type {
	invariant.Precondition(len(variants) > 0, "enum needs at least one variant")
	return &Type{kind: KindEnum, variants: append([]string(nil), variants...)}
}

// List constructs a list over an element type.
func List(elem *Type) *Type {
	invariant.NotNil(elem, "elem")
	return &Type{kind: KindList, elem: elem}
}

// Record constructs a named record type from its fields.
func Record(name string, fields ...Field) *Type {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		invariant.NotNil(f.Type, "field type")
		invariant.Precondition(f.Name != "", "field name must not be empty")
		invariant.Precondition(!seen[f.Name], "duplicate field name %q", f.Name)
		seen[f.Name] = true
	}
	return &Type{kind: KindRecord, name: name, fields: append([]Field(nil), fields...)}
}

// F is shorthand for constructing a Field.
func F(name string, t *Type) Field { return Field{Name: name, Type: t} }

// WithName returns a copy of t carrying the given type name.
func (t *Type) WithName(name string) *Type {
	c := *t
	c.name = name
	return &c
}

// WithAttributes returns a copy of t with the attributes appended.
func (t *Type) WithAttributes(attrs ...Attribute) *Type {
	c := *t
	c.attrs = append(append([]Attribute(nil), t.attrs...), attrs...)
	return &c
}

func (t *Type) Kind() Kind              { return t.kind }
func (t *Type) Name() string            { return t.name }
func (t *Type) Fields() []Field         { return t.fields }
func (t *Type) Elem() *Type             { return t.elem }
func (t *Type) Variants() []string      { return t.variants }
func (t *Type) Attributes() []Attribute { return t.attrs }

// Leaf is one entry of a flattened record type: the dot-joined path and
// the leaf type at that path. Lists count as leaves; records do not.
type Leaf struct {
	Path string
	Type *Type
}

// Leaves returns the flattened leaves of t in declaration order. For a
// non-record type the single leaf has an empty path.
func (t *Type) Leaves() []Leaf {
	var out []Leaf
	t.appendLeaves(&out, "")
	return out
}

func (t *Type) appendLeaves(out *[]Leaf, prefix string) {
	if t.kind != KindRecord {
		*out = append(*out, Leaf{Path: prefix, Type: t})
		return
	}
	for _, f := range t.fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		f.Type.appendLeaves(out, path)
	}
}

// LeafCount returns the number of flattened leaves, which equals the
// column count of an events batch with this schema.
func (t *Type) LeafCount() int {
	return len(t.Leaves())
}

// LeafIndex returns the flattened column index for the given leaf path.
func (t *Type) LeafIndex(path string) (int, bool) {
	for i, leaf := range t.Leaves() {
		if leaf.Path == path {
			return i, true
		}
	}
	return 0, false
}

// String renders the type for logs. Records render their field list;
// leaves render their kind name.
func (t *Type) String() string {
	var b strings.Builder
	t.render(&b)
	return b.String()
}

func (t *Type) render(b *strings.Builder) {
	switch t.kind {
	case KindRecord:
		if t.name != "" {
			b.WriteString(t.name)
		}
		b.WriteString("{")
		for i, f := range t.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Type.render(b)
		}
		b.WriteString("}")
	case KindList:
		b.WriteString("list<")
		t.elem.render(b)
		b.WriteString(">")
	case KindEnum:
		fmt.Fprintf(b, "enum<%s>", strings.Join(t.variants, "|"))
	default:
		b.WriteString(t.kind.String())
	}
}

// Equal reports structural equality including names and attributes.
func (t *Type) Equal(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Fingerprint() == other.Fingerprint()
}
