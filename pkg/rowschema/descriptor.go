package rowschema

import (
	"fmt"

	"github.com/camforge/rowkv/pkg/coltype"
)

// DescriptorColumn names one primary-table column a secondary index
// projects, plus (for key columns) the direction it sorts in within the
// index.
type DescriptorColumn struct {
	Name       string
	Descending bool
}

// EncodeDescriptor serializes a secondary index's column layout per §6:
//
//	prefixPF(len(keyCols))
//	  per key column: direction byte ('+' asc, '-' desc) || prefixPF(len(name)) || name
//	prefixPF(len(valueCols))
//	  per value column: prefixPF(len(name)) || name
//
// Two indexes with the same columns in the same order produce identical
// descriptor bytes, which is what lets the secondary-index manager compare
// a table's declared indexes against what is actually open on disk by
// byte equality rather than semantic column-list comparison.
func EncodeDescriptor(keyCols, valueCols []DescriptorColumn) []byte {
	var dst []byte
	dst = coltype.PutVarPrefix(dst, uint64(len(keyCols)))
	for _, c := range keyCols {
		dir := byte('+')
		if c.Descending {
			dir = '-'
		}
		dst = append(dst, dir)
		dst = coltype.PutVarPrefix(dst, uint64(len(c.Name)))
		dst = append(dst, c.Name...)
	}
	dst = coltype.PutVarPrefix(dst, uint64(len(valueCols)))
	for _, c := range valueCols {
		dst = coltype.PutVarPrefix(dst, uint64(len(c.Name)))
		dst = append(dst, c.Name...)
	}
	return dst
}

// DecodeDescriptor is the inverse of EncodeDescriptor.
func DecodeDescriptor(src []byte) (keyCols, valueCols []DescriptorColumn, err error) {
	off := 0
	nk, n, err := coltype.GetVarPrefix(src[off:])
	if err != nil {
		return nil, nil, fmt.Errorf("rowschema: decoding descriptor key count: %w", err)
	}
	off += n
	keyCols = make([]DescriptorColumn, nk)
	for i := range keyCols {
		if off >= len(src) {
			return nil, nil, fmt.Errorf("rowschema: truncated descriptor at key column %d", i)
		}
		dir := src[off]
		off++
		nameLen, n, err := coltype.GetVarPrefix(src[off:])
		if err != nil {
			return nil, nil, fmt.Errorf("rowschema: decoding descriptor key column %d name length: %w", i, err)
		}
		off += n
		if off+int(nameLen) > len(src) {
			return nil, nil, fmt.Errorf("rowschema: truncated descriptor name at key column %d", i)
		}
		keyCols[i] = DescriptorColumn{
			Name:       string(src[off : off+int(nameLen)]),
			Descending: dir == '-',
		}
		off += int(nameLen)
	}

	nv, n, err := coltype.GetVarPrefix(src[off:])
	if err != nil {
		return nil, nil, fmt.Errorf("rowschema: decoding descriptor value count: %w", err)
	}
	off += n
	valueCols = make([]DescriptorColumn, nv)
	for i := range valueCols {
		nameLen, n, err := coltype.GetVarPrefix(src[off:])
		if err != nil {
			return nil, nil, fmt.Errorf("rowschema: decoding descriptor value column %d name length: %w", i, err)
		}
		off += n
		if off+int(nameLen) > len(src) {
			return nil, nil, fmt.Errorf("rowschema: truncated descriptor name at value column %d", i)
		}
		valueCols[i] = DescriptorColumn{Name: string(src[off : off+int(nameLen)])}
		off += int(nameLen)
	}
	return keyCols, valueCols, nil
}
