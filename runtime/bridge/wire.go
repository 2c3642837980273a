// Package bridge carries batches across a location boundary. A bridge is
// a pair of internal operators: an egress that serializes batches into
// length-prefixed frames on a byte stream, and an ingress that
// deserializes them on the other side. Back-pressure crosses the
// boundary as ack frames: each delivered batch returns one credit to the
// egress, which suspends once its window is exhausted. The stream
// transport preserves order, so batches are never reordered across a
// bridge.
package bridge

import (
	"encoding/base64"
	"net/netip"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireType is the serialized form of a schema type.
type wireType struct {
	Kind     int             `json:"kind"`
	Name     string          `json:"name,omitempty"`
	Fields   []wireField     `json:"fields,omitempty"`
	Elem     *wireType       `json:"elem,omitempty"`
	Variants []string        `json:"variants,omitempty"`
	Attrs    []wireAttribute `json:"attrs,omitempty"`
}

type wireField struct {
	Name string   `json:"name"`
	Type wireType `json:"type"`
}

type wireAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func encodeType(t *schema.Type) wireType {
	w := wireType{Kind: int(t.Kind()), Name: t.Name(), Variants: t.Variants()}
	for _, a := range t.Attributes() {
		w.Attrs = append(w.Attrs, wireAttribute{Key: a.Key, Value: a.Value})
	}
	switch t.Kind() {
	case schema.KindRecord:
		for _, f := range t.Fields() {
			w.Fields = append(w.Fields, wireField{Name: f.Name, Type: encodeType(f.Type)})
		}
	case schema.KindList:
		elem := encodeType(t.Elem())
		w.Elem = &elem
	}
	return w
}

func decodeType(w wireType) (*schema.Type, error) {
	var t *schema.Type
	switch schema.Kind(w.Kind) {
	case schema.KindInt64:
		t = schema.Int64()
	case schema.KindUint64:
		t = schema.Uint64()
	case schema.KindDouble:
		t = schema.Double()
	case schema.KindDuration:
		t = schema.Duration()
	case schema.KindTime:
		t = schema.Time()
	case schema.KindString:
		t = schema.String()
	case schema.KindBlob:
		t = schema.Blob()
	case schema.KindEnum:
		if len(w.Variants) == 0 {
			return nil, errors.New("enum type without variants")
		}
		t = schema.Enum(w.Variants...)
	case schema.KindIP:
		t = schema.IP()
	case schema.KindSubnet:
		t = schema.Subnet()
	case schema.KindPattern:
		t = schema.Pattern()
	case schema.KindList:
		if w.Elem == nil {
			return nil, errors.New("list type without element")
		}
		elem, err := decodeType(*w.Elem)
		if err != nil {
			return nil, err
		}
		t = schema.List(elem)
	case schema.KindRecord:
		fields := make([]schema.Field, 0, len(w.Fields))
		for _, f := range w.Fields {
			ft, err := decodeType(f.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", f.Name)
			}
			fields = append(fields, schema.F(f.Name, ft))
		}
		t = schema.Record(w.Name, fields...)
	default:
		return nil, errors.Errorf("unknown wire type kind %d", w.Kind)
	}
	if w.Name != "" && schema.Kind(w.Kind) != schema.KindRecord {
		t = t.WithName(w.Name)
	}
	for _, a := range w.Attrs {
		t = t.WithAttributes(schema.Attribute{Key: a.Key, Value: a.Value})
	}
	return t, nil
}

// wireBatch is the serialized form of a batch.
type wireBatch struct {
	Elem       int              `json:"elem"`
	Data       []byte           `json:"data,omitempty"`
	Schema     *wireType        `json:"schema,omitempty"`
	Rows       []map[string]any `json:"rows,omitempty"`
	ImportTime time.Time        `json:"import_time,omitempty"`
}

func encodeBatch(b element.Batch) ([]byte, error) {
	w := wireBatch{Elem: b.Elem().ID()}
	switch batch := b.(type) {
	case element.VoidBatch:
	case element.BytesBatch:
		w.Data = batch.Data()
	case element.EventsBatch:
		sc := encodeType(batch.Schema())
		w.Schema = &sc
		w.ImportTime = batch.ImportTime()
		w.Rows = make([]map[string]any, batch.Rows())
		leaves := batch.Schema().Leaves()
		for i := 0; i < batch.Rows(); i++ {
			row := make(map[string]any, len(leaves))
			for c, leaf := range leaves {
				v := batch.Column(c).Value(i)
				if v == nil {
					continue
				}
				row[leaf.Path] = encodeValue(leaf.Type.Kind(), v)
			}
			w.Rows[i] = row
		}
	default:
		invariant.Unreachable("unknown batch type %T", b)
	}
	return json.Marshal(w)
}

func decodeBatch(payload []byte) (element.Batch, error) {
	var w wireBatch
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, errors.Wrap(err, "decode batch frame")
	}
	switch element.Type(w.Elem) {
	case element.Void:
		return element.VoidBatch{}, nil
	case element.Bytes:
		return element.NewBytes(w.Data), nil
	case element.Events:
		if w.Schema == nil {
			return nil, errors.New("events frame without schema")
		}
		sc, err := decodeType(*w.Schema)
		if err != nil {
			return nil, err
		}
		builder := element.NewEventsBuilder(sc)
		leaves := sc.Leaves()
		for i, row := range w.Rows {
			decoded := make(map[string]any, len(row))
			for _, leaf := range leaves {
				raw, ok := row[leaf.Path]
				if !ok || raw == nil {
					continue
				}
				v, err := decodeValue(leaf.Type.Kind(), raw)
				if err != nil {
					return nil, errors.Wrapf(err, "row %d field %q", i, leaf.Path)
				}
				decoded[leaf.Path] = v
			}
			if err := builder.Append(decoded); err != nil {
				return nil, errors.Wrapf(err, "row %d", i)
			}
		}
		return builder.Finish().WithImportTime(w.ImportTime), nil
	}
	return nil, errors.Errorf("unknown wire element type %d", w.Elem)
}

// encodeValue maps a column value to a JSON-safe representation.
func encodeValue(kind schema.Kind, v any) any {
	switch kind {
	case schema.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
	case schema.KindDuration:
		if d, ok := v.(time.Duration); ok {
			return int64(d)
		}
	case schema.KindIP:
		if a, ok := v.(netip.Addr); ok {
			return a.String()
		}
	case schema.KindSubnet:
		if p, ok := v.(netip.Prefix); ok {
			return p.String()
		}
	}
	return v
}

// decodeValue maps a JSON value back to the column representation for a
// leaf kind. JSON numbers arrive as float64.
func decodeValue(kind schema.Kind, raw any) (any, error) {
	switch kind {
	case schema.KindInt64:
		if f, ok := raw.(float64); ok {
			return int64(f), nil
		}
	case schema.KindUint64:
		if f, ok := raw.(float64); ok {
			return uint64(f), nil
		}
	case schema.KindDouble:
		if f, ok := raw.(float64); ok {
			return f, nil
		}
	case schema.KindString, schema.KindPattern, schema.KindEnum:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case schema.KindBlob:
		if s, ok := raw.(string); ok {
			// jsoniter renders []byte as base64, matching encoding/json.
			return base64.StdEncoding.DecodeString(s)
		}
	case schema.KindTime:
		if s, ok := raw.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case schema.KindDuration:
		if f, ok := raw.(float64); ok {
			return time.Duration(int64(f)), nil
		}
	case schema.KindIP:
		if s, ok := raw.(string); ok {
			return netip.ParseAddr(s)
		}
	case schema.KindSubnet:
		if s, ok := raw.(string); ok {
			return netip.ParsePrefix(s)
		}
	case schema.KindList:
		if l, ok := raw.([]any); ok {
			return l, nil
		}
	}
	return nil, errors.Errorf("value %v (%T) does not decode as %s", raw, raw, kind)
}
