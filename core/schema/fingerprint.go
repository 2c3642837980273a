package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Fingerprint is a content-derived stable identifier for a schema. Two
// types with identical structure, names, and attributes share a
// fingerprint; any difference in a leaf kind, field name, nesting, enum
// variant, or attribute changes it.
type Fingerprint uint64

// String renders the fingerprint in the fixed-width form used as a metric
// label and routing key.
func (f Fingerprint) String() string {
	return fmt.Sprintf("fp:%016x", uint64(f))
}

// Fingerprint computes the type's fingerprint as an xxhash64 over a
// canonical encoding. The encoding length-prefixes every string and tags
// every node with its kind, so concatenation ambiguities cannot collide.
func (t *Type) Fingerprint() Fingerprint {
	h := xxhash.New64()
	t.hashInto(h)
	return Fingerprint(h.Sum64())
}

func (t *Type) hashInto(h *xxhash.XXHash64) {
	writeByte(h, byte(t.kind))
	writeString(h, t.name)
	writeInt(h, len(t.attrs))
	for _, a := range t.attrs {
		writeString(h, a.Key)
		writeString(h, a.Value)
	}
	switch t.kind {
	case KindRecord:
		writeInt(h, len(t.fields))
		for _, f := range t.fields {
			writeString(h, f.Name)
			f.Type.hashInto(h)
		}
	case KindList:
		t.elem.hashInto(h)
	case KindEnum:
		writeInt(h, len(t.variants))
		for _, v := range t.variants {
			writeString(h, v)
		}
	}
}

func writeByte(h *xxhash.XXHash64, b byte) {
	_, _ = h.Write([]byte{b})
}

func writeInt(h *xxhash.XXHash64, n int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	_, _ = h.Write(buf[:])
}

func writeString(h *xxhash.XXHash64, s string) {
	writeInt(h, len(s))
	_, _ = h.WriteString(s)
}
