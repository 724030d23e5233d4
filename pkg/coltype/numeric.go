package coltype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// --- fixed-width key codecs (unsigned/sign-flipped big-endian) ---

// intKeyCodec encodes fixed-width signed/unsigned integers for key
// positions: big-endian so unsigned lexicographic compare matches numeric
// order, with the sign bit flipped for signed types so negative values sort
// before non-negative ones. A nullable variant reserves one header byte
// (0x00 = null, 0x01 = present) ahead of the fixed-width body, per §4.1's
// "reserved header byte" rule for nullable keys. The header byte and the
// body are inverted together under descending (via maybeInvert) so NULL
// still sorts after every non-null value when the column is descending.
type intKeyCodec struct {
	width      int // bytes, excluding any null header
	signed     bool
	descending bool
	nullable   bool
}

func (c *intKeyCodec) MinSize() int {
	n := c.width
	if c.nullable {
		n++
	}
	return n
}

func (c *intKeyCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	u, isNull, err := c.rawBits(value)
	if err != nil {
		return nil, err
	}
	start := len(dst)
	if c.nullable {
		if isNull {
			dst = append(dst, 0x00)
			return maybeInvert(dst, start, c.descending), nil
		}
		dst = append(dst, 0x01)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u<<(64-uint(c.width)*8))
	dst = append(dst, buf[:c.width]...)
	return maybeInvert(dst, start, c.descending), nil
}

// rawBits returns the width-bit unsigned pattern (sign-flipped if signed)
// for value, left-justified within width*8 bits, plus whether it was NULL.
func (c *intKeyCodec) rawBits(value interface{}) (uint64, bool, error) {
	if value == nil {
		if !c.nullable {
			return 0, false, fmt.Errorf("coltype: nil value for non-nullable int key column")
		}
		return 0, true, nil
	}
	var u uint64
	switch v := value.(type) {
	case int64:
		u = uint64(v)
	case int32:
		u = uint64(uint32(v))
	case int16:
		u = uint64(uint16(v))
	case int8:
		u = uint64(uint8(v))
	case int:
		u = uint64(v)
	case uint64:
		u = v
	case uint32:
		u = uint64(v)
	case uint16:
		u = uint64(v)
	case uint8:
		u = uint64(v)
	case uint:
		u = uint64(v)
	default:
		return 0, false, &ErrUnsupportedValue{Value: value}
	}
	bits := uint(c.width) * 8
	u &= maskFor(bits)
	if c.signed {
		u ^= uint64(1) << (bits - 1)
	}
	return u, false, nil
}

func maskFor(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func (c *intKeyCodec) EncodeSize(value interface{}) (int, error) {
	if value == nil && c.nullable {
		return 1, nil
	}
	return c.MinSize(), nil
}

func (c *intKeyCodec) Decode(src []byte) (interface{}, int, error) {
	n := c.width
	off := 0
	if c.nullable {
		if len(src) == 0 {
			return nil, 0, fmt.Errorf("coltype: truncated nullable int key")
		}
		marker := src[0]
		if c.descending {
			marker = ^marker
		}
		if marker == 0x00 {
			return nil, 1, nil
		}
		off = 1
	}
	if len(src) < off+n {
		return nil, 0, fmt.Errorf("coltype: truncated int key column")
	}
	raw := append([]byte(nil), src[off:off+n]...)
	if c.descending {
		for i := range raw {
			raw[i] = ^raw[i]
		}
	}
	var buf [8]byte
	copy(buf[:n], raw)
	u := binary.BigEndian.Uint64(buf[:]) >> (64 - uint(n)*8)
	bits := uint(n) * 8
	if c.signed {
		u ^= uint64(1) << (bits - 1)
	}
	return signedOrUnsigned(u, bits, c.signed, c.width), off + n, nil
}

func signedOrUnsigned(u uint64, bits uint, signed bool, width int) interface{} {
	if !signed {
		switch width {
		case 1:
			return uint8(u)
		case 2:
			return uint16(u)
		case 4:
			return uint32(u)
		default:
			return u
		}
	}
	// sign-extend
	signBit := uint64(1) << (bits - 1)
	var v int64
	if u&signBit != 0 {
		v = int64(u) - int64(uint64(1)<<bits)
	} else {
		v = int64(u)
	}
	switch width {
	case 1:
		return int8(v)
	case 2:
		return int16(v)
	case 4:
		return int32(v)
	default:
		return v
	}
}

func (c *intKeyCodec) DecodeSkip(src []byte) (int, error) {
	_, n, err := c.Decode(src)
	return n, err
}

func (c *intKeyCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	u, isNull, err := c.rawBits(arg)
	if err != nil {
		return nil, err
	}
	return preparedInt{u: u, isNull: isNull}, nil
}

type preparedInt struct {
	u      uint64
	isNull bool
}

func (c *intKeyCodec) FilterDecode(src []byte) ([]byte, int, error) {
	n, err := c.DecodeSkip(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

func (c *intKeyCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, n, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	_ = n
	p := prepared.(preparedInt)
	if v == nil && p.isNull {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if p.isNull {
		return 1, nil
	}
	other, _, err := c.rawBits(v)
	if err != nil {
		return 0, err
	}
	switch {
	case other < p.u:
		return -1, nil
	case other > p.u:
		return 1, nil
	default:
		return 0, nil
	}
}

// intValueCodec encodes signed/unsigned integers for value positions using
// zig-zag + the 1/2/4-byte variable length prefix form; need not preserve
// order, only round-trip and be compact for small magnitudes.
type intValueCodec struct {
	signed   bool
	nullable bool
	last     bool
}

func (c *intValueCodec) MinSize() int { return 1 }

func (c *intValueCodec) zigZag(value interface{}) (uint64, bool, error) {
	if value == nil {
		if !c.nullable {
			return 0, false, fmt.Errorf("coltype: nil value for non-nullable int value column")
		}
		return 0, true, nil
	}
	var s int64
	switch v := value.(type) {
	case int64:
		s = v
	case int32:
		s = int64(v)
	case int16:
		s = int64(v)
	case int8:
		s = int64(v)
	case int:
		s = int64(v)
	case uint64:
		if !c.signed {
			return v, false, nil
		}
		s = int64(v)
	case uint32:
		if !c.signed {
			return uint64(v), false, nil
		}
		s = int64(v)
	case uint16:
		if !c.signed {
			return uint64(v), false, nil
		}
		s = int64(v)
	case uint8:
		if !c.signed {
			return uint64(v), false, nil
		}
		s = int64(v)
	default:
		return 0, false, &ErrUnsupportedValue{Value: value}
	}
	if c.signed {
		return zigZagEncode(s), false, nil
	}
	return uint64(s), false, nil
}

func (c *intValueCodec) encodedLen(u uint64, isNull bool) int {
	if c.nullable {
		if isNull {
			return varPrefixSize(0)
		}
		return varPrefixSize(u + 1)
	}
	if c.last {
		return varIntByteLen(u)
	}
	return varPrefixSize(u)
}

// varIntByteLen is the number of 7-bit groups (bytes) needed to hold u as a
// LEB128 varint, used only for the "last, non-nullable" value form which
// consumes the remainder of the value bytes and therefore needs no prefix
// at all, just the raw zig-zag varint bytes (LEB128-style).
func varIntByteLen(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

func (c *intValueCodec) EncodeSize(value interface{}) (int, error) {
	u, isNull, err := c.zigZag(value)
	if err != nil {
		return 0, err
	}
	return c.encodedLen(u, isNull), nil
}

func (c *intValueCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	u, isNull, err := c.zigZag(value)
	if err != nil {
		return nil, err
	}
	if c.last && !c.nullable {
		return appendLEB128(dst, u), nil
	}
	if c.nullable {
		if isNull {
			return putVarPrefix(dst, 0), nil
		}
		dst = putVarPrefix(dst, u+1)
		return dst, nil
	}
	return putVarPrefix(dst, u), nil
}

func appendLEB128(dst []byte, u uint64) []byte {
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

func readLEB128(src []byte) (uint64, int, error) {
	var u uint64
	var shift uint
	for i, b := range src {
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return u, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("coltype: leb128 overflow")
		}
	}
	return 0, 0, fmt.Errorf("coltype: truncated leb128 value")
}

func (c *intValueCodec) Decode(src []byte) (interface{}, int, error) {
	if c.last && !c.nullable {
		u, n, err := readLEB128(src)
		if err != nil {
			return nil, 0, err
		}
		return c.fromBits(u), n, nil
	}
	u, hdr, err := getVarPrefix(src)
	if err != nil {
		return nil, 0, err
	}
	if c.nullable {
		if u == 0 {
			return nil, hdr, nil
		}
		return c.fromBits(u - 1), hdr, nil
	}
	return c.fromBits(u), hdr, nil
}

func (c *intValueCodec) fromBits(u uint64) interface{} {
	if c.signed {
		return zigZagDecode(u)
	}
	return u
}

func (c *intValueCodec) DecodeSkip(src []byte) (int, error) {
	_, n, err := c.Decode(src)
	return n, err
}

func (c *intValueCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	u, isNull, err := c.zigZag(arg)
	if err != nil {
		return nil, err
	}
	return preparedInt{u: u, isNull: isNull}, nil
}

func (c *intValueCodec) FilterDecode(src []byte) ([]byte, int, error) {
	n, err := c.DecodeSkip(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

func (c *intValueCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	p := prepared.(preparedInt)
	if v == nil && p.isNull {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if p.isNull {
		return 1, nil
	}
	u, _, err := c.zigZag(v)
	if err != nil {
		return 0, err
	}
	switch {
	case u < p.u:
		return -1, nil
	case u > p.u:
		return 1, nil
	default:
		return 0, nil
	}
}

// --- floating point key codecs ---

// floatKeyCodec makes IEEE-754 bit patterns order-preserving: flip the sign
// bit for non-negative values, flip the entire word for negative values.
type floatKeyCodec struct {
	width      int // 4 or 8
	descending bool
}

func (c *floatKeyCodec) MinSize() int { return c.width }

func (c *floatKeyCodec) bits(value interface{}) (uint64, error) {
	switch c.width {
	case 4:
		f, ok := value.(float32)
		if !ok {
			return 0, &ErrUnsupportedValue{Value: value}
		}
		return uint64(math.Float32bits(f)), nil
	default:
		f, ok := value.(float64)
		if !ok {
			return 0, &ErrUnsupportedValue{Value: value}
		}
		return math.Float64bits(f), nil
	}
}

func orderBits(bits uint64, width int) uint64 {
	signMask := uint64(1) << (uint(width)*8 - 1)
	if bits&signMask != 0 {
		// negative: flip every bit
		if width == 4 {
			return uint64(^uint32(bits))
		}
		return ^bits
	}
	// non-negative: flip sign bit only
	return bits | signMask
}

func unorderBits(ordered uint64, width int) uint64 {
	signMask := uint64(1) << (uint(width)*8 - 1)
	if ordered&signMask == 0 {
		// was negative
		if width == 4 {
			return uint64(^uint32(ordered))
		}
		return ^ordered
	}
	return ordered &^ signMask
}

func (c *floatKeyCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	raw, err := c.bits(value)
	if err != nil {
		return nil, err
	}
	ordered := orderBits(raw, c.width)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ordered<<(64-uint(c.width)*8))
	out := buf[:c.width]
	if c.descending {
		inv := make([]byte, len(out))
		for i, b := range out {
			inv[i] = ^b
		}
		out = inv
	}
	return append(dst, out...), nil
}

func (c *floatKeyCodec) EncodeSize(value interface{}) (int, error) { return c.width, nil }

func (c *floatKeyCodec) Decode(src []byte) (interface{}, int, error) {
	if len(src) < c.width {
		return nil, 0, fmt.Errorf("coltype: truncated float key column")
	}
	raw := append([]byte(nil), src[:c.width]...)
	if c.descending {
		for i := range raw {
			raw[i] = ^raw[i]
		}
	}
	var buf [8]byte
	copy(buf[:c.width], raw)
	ordered := binary.BigEndian.Uint64(buf[:]) >> (64 - uint(c.width)*8)
	bits := unorderBits(ordered, c.width)
	if c.width == 4 {
		return math.Float32frombits(uint32(bits)), c.width, nil
	}
	return math.Float64frombits(bits), c.width, nil
}

func (c *floatKeyCodec) DecodeSkip(src []byte) (int, error) {
	_, n, err := c.Decode(src)
	return n, err
}

func (c *floatKeyCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	b, err := c.bits(arg)
	if err != nil {
		return nil, err
	}
	return orderBits(b, c.width), nil
}

func (c *floatKeyCodec) FilterDecode(src []byte) ([]byte, int, error) {
	if len(src) < c.width {
		return nil, 0, fmt.Errorf("coltype: truncated float key column")
	}
	return src[:c.width], c.width, nil
}

func (c *floatKeyCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	b, err := c.bits(v)
	if err != nil {
		return 0, err
	}
	ob := orderBits(b, c.width)
	pb := prepared.(uint64)
	switch {
	case ob < pb:
		return -1, nil
	case ob > pb:
		return 1, nil
	default:
		return 0, nil
	}
}

func init() {
	for _, width := range []int{1, 2, 4, 8} {
		t := widthToIntType(width, true)
		ut := widthToIntType(width, false)
		for _, desc := range []bool{false, true} {
			register(t, NotNull, desc, KeyNonLast, &intKeyCodec{width: width, signed: true, descending: desc})
			register(t, NotNull, desc, KeyLast, &intKeyCodec{width: width, signed: true, descending: desc})
			register(t, Nullable, desc, KeyNonLast, &intKeyCodec{width: width, signed: true, descending: desc, nullable: true})
			register(t, Nullable, desc, KeyLast, &intKeyCodec{width: width, signed: true, descending: desc, nullable: true})

			register(ut, NotNull, desc, KeyNonLast, &intKeyCodec{width: width, signed: false, descending: desc})
			register(ut, NotNull, desc, KeyLast, &intKeyCodec{width: width, signed: false, descending: desc})
			register(ut, Nullable, desc, KeyNonLast, &intKeyCodec{width: width, signed: false, descending: desc, nullable: true})
			register(ut, Nullable, desc, KeyLast, &intKeyCodec{width: width, signed: false, descending: desc, nullable: true})
		}
		register(t, NotNull, false, ValueNonLast, &intValueCodec{signed: true})
		register(t, NotNull, false, ValueLast, &intValueCodec{signed: true, last: true})
		register(t, Nullable, false, ValueNonLast, &intValueCodec{signed: true, nullable: true})
		register(t, Nullable, false, ValueLast, &intValueCodec{signed: true, nullable: true, last: true})

		register(ut, NotNull, false, ValueNonLast, &intValueCodec{signed: false})
		register(ut, NotNull, false, ValueLast, &intValueCodec{signed: false, last: true})
		register(ut, Nullable, false, ValueNonLast, &intValueCodec{signed: false, nullable: true})
		register(ut, Nullable, false, ValueLast, &intValueCodec{signed: false, nullable: true, last: true})
	}

	for _, width := range []int{4, 8} {
		t := TFloat32
		if width == 8 {
			t = TFloat64
		}
		for _, desc := range []bool{false, true} {
			register(t, NotNull, desc, KeyNonLast, &floatKeyCodec{width: width, descending: desc})
			register(t, NotNull, desc, KeyLast, &floatKeyCodec{width: width, descending: desc})
		}
		register(t, NotNull, false, ValueNonLast, &floatKeyCodec{width: width})
		register(t, NotNull, false, ValueLast, &floatKeyCodec{width: width})
	}
}

func widthToIntType(width int, signed bool) Type {
	switch width {
	case 1:
		if signed {
			return TInt8
		}
		return TUint8
	case 2:
		if signed {
			return TInt16
		}
		return TUint16
	case 4:
		if signed {
			return TInt32
		}
		return TUint32
	default:
		if signed {
			return TInt64
		}
		return TUint64
	}
}
