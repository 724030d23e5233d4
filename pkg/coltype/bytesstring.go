package coltype

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// toBytes normalizes a []byte or string value into raw bytes; string
// columns and byte-array columns share the same wire encoding and differ
// only in the Go type Decode hands back.
func toBytes(value interface{}) ([]byte, bool, error) {
	if value == nil {
		return nil, true, nil
	}
	switch v := value.(type) {
	case []byte:
		return v, false, nil
	case string:
		return []byte(v), false, nil
	default:
		return nil, false, &ErrUnsupportedValue{Value: value}
	}
}

// keyTerminatorCodec implements string/[]byte key columns that are not the
// last column of their key tuple. Because the raw bytes must not contain
// the separator the scanner uses to find the column's end, 0x00 and 0x01
// are escaped: 0x00 -> 0x01 0x01 ("escaped zero"), 0x01 -> 0x01 0x02
// ("escaped one"), and the column itself is terminated by a literal 0x00
// byte. A nullable column reserves 0x00 immediately (with no terminator
// following) to mean NULL, vs. a present-but-empty value which still emits
// the terminator.
type keyTerminatorCodec struct {
	descending bool
	nullable   bool
	asString   bool
}

func (c *keyTerminatorCodec) MinSize() int {
	if c.nullable {
		return 1
	}
	return 1 // at minimum, just the terminator
}

func (c *keyTerminatorCodec) encodedEscapedLen(raw []byte) int {
	n := 1 // terminator
	for _, b := range raw {
		if b == 0x00 || b == 0x01 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (c *keyTerminatorCodec) EncodeSize(value interface{}) (int, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return 0, err
	}
	if isNull {
		if !c.nullable {
			return 0, fmt.Errorf("coltype: nil value for non-nullable string/bytes key column")
		}
		return 1, nil
	}
	return c.encodedEscapedLen(raw), nil
}

func (c *keyTerminatorCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return nil, err
	}
	if c.asString {
		if s, ok := value.(string); ok {
			if !utf8.ValidString(s) {
				return nil, fmt.Errorf("coltype: invalid utf8 string")
			}
		}
	}
	var out []byte
	if isNull {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil value for non-nullable string/bytes key column")
		}
		out = append(dst, 0x00)
		return maybeInvert(out, len(dst), c.descending), nil
	}
	start := len(dst)
	if c.nullable {
		dst = append(dst, 0x02) // present-but-nonnull marker ahead of escaped body
	}
	for _, b := range raw {
		switch b {
		case 0x00:
			dst = append(dst, 0x01, 0x01)
		case 0x01:
			dst = append(dst, 0x01, 0x02)
		default:
			dst = append(dst, b)
		}
	}
	dst = append(dst, 0x00)
	return maybeInvert(dst, start, c.descending), nil
}

// maybeInvert bit-inverts dst[from:] in place when descending is set, and
// returns dst.
func maybeInvert(dst []byte, from int, descending bool) []byte {
	if !descending {
		return dst
	}
	for i := from; i < len(dst); i++ {
		dst[i] = ^dst[i]
	}
	return dst
}

func (c *keyTerminatorCodec) unescape(src []byte) (raw []byte, consumed int, isNull bool, err error) {
	work := src
	if c.descending {
		work = append([]byte(nil), src...)
		for i := range work {
			work[i] = ^work[i]
		}
	}
	if len(work) == 0 {
		return nil, 0, false, fmt.Errorf("coltype: truncated string/bytes key column")
	}
	if c.nullable && work[0] == 0x00 {
		return nil, 1, true, nil
	}
	i := 0
	if c.nullable {
		if work[0] != 0x02 {
			return nil, 0, false, fmt.Errorf("coltype: invalid nullable presence marker %#x", work[0])
		}
		i = 1
	}
	var out []byte
	for i < len(work) {
		b := work[i]
		if b == 0x00 {
			return out, i + 1, false, nil
		}
		if b == 0x01 {
			if i+1 >= len(work) {
				return nil, 0, false, fmt.Errorf("coltype: truncated escape sequence")
			}
			switch work[i+1] {
			case 0x01:
				out = append(out, 0x00)
			case 0x02:
				out = append(out, 0x01)
			default:
				return nil, 0, false, fmt.Errorf("coltype: invalid escape sequence %#x", work[i+1])
			}
			i += 2
			continue
		}
		out = append(out, b)
		i++
	}
	return nil, 0, false, fmt.Errorf("coltype: unterminated string/bytes key column")
}

func (c *keyTerminatorCodec) Decode(src []byte) (interface{}, int, error) {
	raw, n, isNull, err := c.unescape(src)
	if err != nil {
		return nil, 0, err
	}
	if isNull {
		return nil, n, nil
	}
	if c.asString {
		return string(raw), n, nil
	}
	return raw, n, nil
}

func (c *keyTerminatorCodec) DecodeSkip(src []byte) (int, error) {
	_, n, _, err := c.unescape(src)
	return n, err
}

func (c *keyTerminatorCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	raw, isNull, err := toBytes(arg)
	if err != nil {
		return nil, err
	}
	if isNull && !c.nullable {
		return nil, fmt.Errorf("coltype: nil filter argument for non-nullable column")
	}
	return raw, nil
}

func (c *keyTerminatorCodec) FilterDecode(src []byte) ([]byte, int, error) {
	n, err := c.DecodeSkip(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

func (c *keyTerminatorCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	p, _ := prepared.([]byte)
	var vb []byte
	if v != nil {
		vb, _, _ = toBytes(v)
	}
	if v == nil && prepared == nil {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if prepared == nil {
		return 1, nil
	}
	return bytes.Compare(vb, p), nil
}

// keyRemainderCodec implements string/[]byte columns that are the last key
// column: no terminator or escaping needed, the column simply consumes the
// rest of the key.
type keyRemainderCodec struct {
	descending bool
	nullable   bool
	asString   bool
}

func (c *keyRemainderCodec) MinSize() int { return 0 }

func (c *keyRemainderCodec) EncodeSize(value interface{}) (int, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return 0, err
	}
	if isNull {
		if !c.nullable {
			return 0, fmt.Errorf("coltype: nil value for non-nullable string/bytes key column")
		}
		return 1, nil
	}
	if c.nullable {
		return len(raw) + 1, nil
	}
	return len(raw), nil
}

func (c *keyRemainderCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return nil, err
	}
	start := len(dst)
	if isNull {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil value for non-nullable string/bytes key column")
		}
		dst = append(dst, 0x00)
		return maybeInvert(dst, start, c.descending), nil
	}
	if c.nullable {
		dst = append(dst, 0x02)
	}
	dst = append(dst, raw...)
	return maybeInvert(dst, start, c.descending), nil
}

func (c *keyRemainderCodec) Decode(src []byte) (interface{}, int, error) {
	work := src
	if c.descending {
		work = append([]byte(nil), src...)
		for i := range work {
			work[i] = ^work[i]
		}
	}
	off := 0
	if c.nullable {
		if len(work) == 0 {
			return nil, 0, fmt.Errorf("coltype: truncated string/bytes key column")
		}
		if work[0] == 0x00 {
			return nil, 1, nil
		}
		if work[0] != 0x02 {
			return nil, 0, fmt.Errorf("coltype: invalid nullable presence marker %#x", work[0])
		}
		off = 1
	}
	raw := append([]byte(nil), work[off:]...)
	if c.asString {
		return string(raw), len(src), nil
	}
	return raw, len(src), nil
}

func (c *keyRemainderCodec) DecodeSkip(src []byte) (int, error) { return len(src), nil }

func (c *keyRemainderCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	raw, _, err := toBytes(arg)
	return raw, err
}

func (c *keyRemainderCodec) FilterDecode(src []byte) ([]byte, int, error) {
	return src, len(src), nil
}

func (c *keyRemainderCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	p, _ := prepared.([]byte)
	var vb []byte
	if v != nil {
		vb, _, _ = toBytes(v)
	}
	return bytes.Compare(vb, p), nil
}

// bytesValueCodec implements string/[]byte value columns with a length
// prefix (nullable variant uses len+1, zero meaning null) and a "last"
// variant which omits the prefix and consumes the remaining value bytes.
type bytesValueCodec struct {
	nullable bool
	last     bool
	asString bool
}

func (c *bytesValueCodec) MinSize() int { return 0 }

func (c *bytesValueCodec) EncodeSize(value interface{}) (int, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return 0, err
	}
	if isNull {
		if !c.nullable {
			return 0, fmt.Errorf("coltype: nil value for non-nullable string/bytes value column")
		}
		if c.last {
			return 1, nil
		}
		return varPrefixSize(0), nil
	}
	if c.last {
		if c.nullable {
			return len(raw) + 1, nil
		}
		return len(raw), nil
	}
	if c.nullable {
		return varPrefixSize(uint64(len(raw))+1) + len(raw), nil
	}
	return varPrefixSize(uint64(len(raw))) + len(raw), nil
}

func (c *bytesValueCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	raw, isNull, err := toBytes(value)
	if err != nil {
		return nil, err
	}
	if c.last {
		if c.nullable {
			if isNull {
				return append(dst, 0x00), nil
			}
			dst = append(dst, 0x01)
			return append(dst, raw...), nil
		}
		if isNull {
			return nil, fmt.Errorf("coltype: nil value for non-nullable string/bytes value column")
		}
		return append(dst, raw...), nil
	}
	if isNull {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil value for non-nullable string/bytes value column")
		}
		return putVarPrefix(dst, 0), nil
	}
	if c.nullable {
		dst = putVarPrefix(dst, uint64(len(raw))+1)
	} else {
		dst = putVarPrefix(dst, uint64(len(raw)))
	}
	return append(dst, raw...), nil
}

func (c *bytesValueCodec) Decode(src []byte) (interface{}, int, error) {
	if c.last {
		if c.nullable {
			if len(src) == 0 {
				return nil, 0, fmt.Errorf("coltype: truncated nullable string/bytes value column")
			}
			if src[0] == 0x00 {
				return nil, 1, nil
			}
			raw := append([]byte(nil), src[1:]...)
			if c.asString {
				return string(raw), len(src), nil
			}
			return raw, len(src), nil
		}
		raw := append([]byte(nil), src...)
		if c.asString {
			return string(raw), len(src), nil
		}
		return raw, len(src), nil
	}
	n, hdr, err := getVarPrefix(src)
	if err != nil {
		return nil, 0, err
	}
	if c.nullable {
		if n == 0 {
			return nil, hdr, nil
		}
		n--
	}
	end := hdr + int(n)
	if end > len(src) {
		return nil, 0, fmt.Errorf("coltype: truncated string/bytes value column")
	}
	raw := append([]byte(nil), src[hdr:end]...)
	if c.asString {
		return string(raw), end, nil
	}
	return raw, end, nil
}

func (c *bytesValueCodec) DecodeSkip(src []byte) (int, error) { _, n, err := c.Decode(src); return n, err }

func (c *bytesValueCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	raw, _, err := toBytes(arg)
	return raw, err
}

func (c *bytesValueCodec) FilterDecode(src []byte) ([]byte, int, error) {
	n, err := c.DecodeSkip(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

func (c *bytesValueCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	p, _ := prepared.([]byte)
	var vb []byte
	if v != nil {
		vb, _, _ = toBytes(v)
	}
	if v == nil && prepared == nil {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if prepared == nil {
		return 1, nil
	}
	return bytes.Compare(vb, p), nil
}

func init() {
	for _, desc := range []bool{false, true} {
		register(TBytes, NotNull, desc, KeyNonLast, &keyTerminatorCodec{descending: desc})
		register(TBytes, NotNull, desc, KeyLast, &keyRemainderCodec{descending: desc})
		register(TBytes, Nullable, desc, KeyNonLast, &keyTerminatorCodec{descending: desc, nullable: true})
		register(TBytes, Nullable, desc, KeyLast, &keyRemainderCodec{descending: desc, nullable: true})

		register(TString, NotNull, desc, KeyNonLast, &keyTerminatorCodec{descending: desc, asString: true})
		register(TString, NotNull, desc, KeyLast, &keyRemainderCodec{descending: desc, asString: true})
		register(TString, Nullable, desc, KeyNonLast, &keyTerminatorCodec{descending: desc, nullable: true, asString: true})
		register(TString, Nullable, desc, KeyLast, &keyRemainderCodec{descending: desc, nullable: true, asString: true})
	}

	for _, t := range []Type{TBytes, TString} {
		asString := t == TString
		register(t, NotNull, false, ValueNonLast, &bytesValueCodec{asString: asString})
		register(t, NotNull, false, ValueLast, &bytesValueCodec{last: true, asString: asString})
		register(t, Nullable, false, ValueNonLast, &bytesValueCodec{nullable: true, asString: asString})
		register(t, Nullable, false, ValueLast, &bytesValueCodec{nullable: true, last: true, asString: asString})
	}
}
