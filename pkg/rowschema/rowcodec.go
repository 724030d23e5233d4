package rowschema

import (
	"fmt"

	"github.com/camforge/rowkv/pkg/coltype"
)

// RowCodec composes per-column coltype.Codec instances, in RowInfo's
// declared column order, into whole-row key and value encodings.
//
// Stored value layout: prefixPF(schemaVersion) followed by the
// value-column encodings in declared order. Every encode stamps the
// RowInfo's own SchemaVersion; a reader decodes the prefix first and uses
// it to pick (via a Registry) the RowInfo that was in effect when the row
// was written, so a column added after a row was stored still decodes
// using the writer's original layout.
type RowCodec struct {
	info *RowInfo

	keyCodecs   []coltype.Codec
	valueCodecs []coltype.Codec
}

// NewRowCodec resolves every column's coltype.Codec up front so EncodeKey/
// EncodeValue never pay a registry lookup per row.
func NewRowCodec(info *RowInfo) (*RowCodec, error) {
	rc := &RowCodec{info: info}
	n := len(info.KeyColumns)
	for i, c := range info.KeyColumns {
		pos := coltype.KeyNonLast
		if i == n-1 {
			pos = coltype.KeyLast
		}
		codec, err := coltype.ForColumn(c.Type, c.nullability(), c.Descending, pos)
		if err != nil {
			return nil, fmt.Errorf("rowschema: key column %q: %w", c.Name, err)
		}
		rc.keyCodecs = append(rc.keyCodecs, codec)
	}
	m := len(info.ValueColumns)
	for i, c := range info.ValueColumns {
		pos := coltype.ValueNonLast
		if i == m-1 {
			pos = coltype.ValueLast
		}
		codec, err := coltype.ForColumn(c.Type, c.nullability(), false, pos)
		if err != nil {
			return nil, fmt.Errorf("rowschema: value column %q: %w", c.Name, err)
		}
		rc.valueCodecs = append(rc.valueCodecs, codec)
	}
	return rc, nil
}

// Info returns the RowInfo this codec was built from.
func (rc *RowCodec) Info() *RowInfo { return rc.info }

// EncodeKey appends the encoded key-column tuple to dst, reading values
// from get(columnName).
func (rc *RowCodec) EncodeKey(dst []byte, get func(name string) interface{}) ([]byte, error) {
	for i, c := range rc.info.KeyColumns {
		v := get(c.Name)
		var err error
		dst, err = rc.keyCodecs[i].Encode(dst, v)
		if err != nil {
			return nil, fmt.Errorf("rowschema: encoding key column %q: %w", c.Name, err)
		}
	}
	return dst, nil
}

// DecodeKey decodes the key-column tuple from src, calling set(name, value)
// per column in declared order, and returns the number of bytes consumed.
func (rc *RowCodec) DecodeKey(src []byte, set func(name string, value interface{})) (int, error) {
	total := 0
	for i, c := range rc.info.KeyColumns {
		v, n, err := rc.keyCodecs[i].Decode(src[total:])
		if err != nil {
			return 0, fmt.Errorf("rowschema: decoding key column %q: %w", c.Name, err)
		}
		set(c.Name, v)
		total += n
	}
	return total, nil
}

// EncodeValue appends prefixPF(SchemaVersion) plus the encoded
// value-column tuple to dst.
func (rc *RowCodec) EncodeValue(dst []byte, get func(name string) interface{}) ([]byte, error) {
	dst = coltype.PutVarPrefix(dst, uint64(rc.info.SchemaVersion))
	for i, c := range rc.info.ValueColumns {
		v := get(c.Name)
		var err error
		dst, err = rc.valueCodecs[i].Encode(dst, v)
		if err != nil {
			return nil, fmt.Errorf("rowschema: encoding value column %q: %w", c.Name, err)
		}
	}
	return dst, nil
}

// PeekSchemaVersion reads just the schema-version prefix stamped by
// EncodeValue, without decoding any column — this is what a Registry
// lookup keys on before it even knows which RowInfo (and therefore which
// RowCodec) to hand the rest of the bytes to.
func PeekSchemaVersion(value []byte) (version int, n int, err error) {
	v, n, err := coltype.GetVarPrefix(value)
	if err != nil {
		return 0, 0, fmt.Errorf("rowschema: reading schema version prefix: %w", err)
	}
	return int(v), n, nil
}

// DecodeValue decodes the value-column tuple that follows the schema
// version prefix (already consumed by the caller via PeekSchemaVersion),
// calling set(name, value) per column in declared order.
func (rc *RowCodec) DecodeValue(src []byte, set func(name string, value interface{})) error {
	off := 0
	for i, c := range rc.info.ValueColumns {
		v, n, err := rc.valueCodecs[i].Decode(src[off:])
		if err != nil {
			return fmt.Errorf("rowschema: decoding value column %q: %w", c.Name, err)
		}
		set(c.Name, v)
		off += n
	}
	return nil
}
