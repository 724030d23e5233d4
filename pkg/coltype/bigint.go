package coltype

import (
	"fmt"
	"math/big"
)

// bigIntKeyCodec encodes *big.Int using sign-extended minimal two's
// complement, with a 1-byte header whose value indicates both sign and
// length class, per §4.1. The header byte layout:
//
//	0x00            -> null (nullable columns only)
//	0x01..0x7e       -> negative, body length = 0x7f - header (so more
//	                    negative/longer numbers get a smaller header,
//	                    keeping unsigned header compare order-preserving)
//	0x7f             -> negative, escaped: next 4 bytes (big-endian) carry
//	                    the extended body length
//	0x80             -> zero
//	0x81..0xfe       -> positive, body length = header - 0x80
//	0xff             -> positive, escaped: next 4 bytes carry the extended
//	                    body length
//
// The body is the minimal two's-complement big-endian representation.
type bigIntKeyCodec struct {
	descending bool
	nullable   bool
}

func (c *bigIntKeyCodec) MinSize() int { return 1 }

func minimalTwosComplement(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}
	if v.Sign() > 0 {
		b := v.Bytes()
		if len(b) > 0 && b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}
	// negative: two's complement of minimal byte length that keeps the
	// sign bit set.
	mag := new(big.Int).Neg(v)
	nbytes := (mag.BitLen() + 8) / 8
	if nbytes == 0 {
		nbytes = 1
	}
	full := new(big.Int).Lsh(big.NewInt(1), uint(nbytes)*8)
	twos := new(big.Int).Add(full, v)
	b := twos.Bytes()
	for len(b) < nbytes {
		b = append([]byte{0x00}, b...)
	}
	if len(b) > 0 && b[0]&0x80 == 0 {
		b = append([]byte{0xff}, b...)
	}
	return b
}

func fromTwosComplement(b []byte, negative bool) *big.Int {
	if !negative {
		return new(big.Int).SetBytes(b)
	}
	mag := new(big.Int).SetBytes(b)
	full := new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8)
	return new(big.Int).Sub(mag, full)
}

func (c *bigIntKeyCodec) EncodeSize(value interface{}) (int, error) {
	b, _, isNull, err := c.encodeBody(value)
	if err != nil {
		return 0, err
	}
	if isNull {
		return 1, nil
	}
	if len(b) >= 0x7f {
		return 5 + len(b), nil
	}
	return 1 + len(b), nil
}

func (c *bigIntKeyCodec) encodeBody(value interface{}) (body []byte, sign int, isNull bool, err error) {
	if value == nil {
		if !c.nullable {
			return nil, 0, false, fmt.Errorf("coltype: nil value for non-nullable big.Int key column")
		}
		return nil, 0, true, nil
	}
	v, ok := value.(*big.Int)
	if !ok {
		return nil, 0, false, &ErrUnsupportedValue{Value: value}
	}
	return minimalTwosComplement(v), v.Sign(), false, nil
}

func (c *bigIntKeyCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	body, sign, isNull, err := c.encodeBody(value)
	if err != nil {
		return nil, err
	}
	start := len(dst)
	if isNull {
		dst = append(dst, 0x00)
		return maybeInvert(dst, start, c.descending), nil
	}
	switch {
	case sign == 0:
		dst = append(dst, 0x80)
	case sign < 0:
		if len(body) >= 0x7f {
			dst = append(dst, 0x7f)
			dst = appendUint32(dst, uint32(len(body)))
		} else {
			dst = append(dst, byte(0x7f-len(body)))
		}
		dst = append(dst, body...)
	default:
		if len(body) >= 0x7f {
			dst = append(dst, 0xff)
			dst = appendUint32(dst, uint32(len(body)))
		} else {
			dst = append(dst, byte(0x80+len(body)))
		}
		dst = append(dst, body...)
	}
	return maybeInvert(dst, start, c.descending), nil
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (c *bigIntKeyCodec) Decode(src []byte) (interface{}, int, error) {
	work := src
	if c.descending {
		work = append([]byte(nil), src...)
		for i := range work {
			work[i] = ^work[i]
		}
	}
	if len(work) == 0 {
		return nil, 0, fmt.Errorf("coltype: truncated big.Int key column")
	}
	hdr := work[0]
	if hdr == 0x00 {
		if !c.nullable {
			return nil, 0, fmt.Errorf("coltype: unexpected null marker in non-nullable column")
		}
		return nil, 1, nil
	}
	if hdr == 0x80 {
		return big.NewInt(0), 1, nil
	}
	if hdr < 0x80 {
		// negative
		var n int
		off := 1
		if hdr == 0x7f {
			if len(work) < 5 {
				return nil, 0, fmt.Errorf("coltype: truncated extended-length big.Int key column")
			}
			n = int(readUint32(work[1:5]))
			off = 5
		} else {
			n = int(0x7f - hdr)
		}
		if len(work) < off+n {
			return nil, 0, fmt.Errorf("coltype: truncated big.Int key column body")
		}
		return fromTwosComplement(work[off:off+n], true), off + n, nil
	}
	// positive
	var n int
	off := 1
	if hdr == 0xff {
		if len(work) < 5 {
			return nil, 0, fmt.Errorf("coltype: truncated extended-length big.Int key column")
		}
		n = int(readUint32(work[1:5]))
		off = 5
	} else {
		n = int(hdr - 0x80)
	}
	if len(work) < off+n {
		return nil, 0, fmt.Errorf("coltype: truncated big.Int key column body")
	}
	return fromTwosComplement(work[off:off+n], false), off + n, nil
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (c *bigIntKeyCodec) DecodeSkip(src []byte) (int, error) { _, n, err := c.Decode(src); return n, err }

func (c *bigIntKeyCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	if arg == nil {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil filter argument for non-nullable column")
		}
		return nil, nil
	}
	v, ok := arg.(*big.Int)
	if !ok {
		return nil, &ErrUnsupportedValue{Value: arg}
	}
	return v, nil
}

func (c *bigIntKeyCodec) FilterDecode(src []byte) ([]byte, int, error) {
	n, err := c.DecodeSkip(src)
	if err != nil {
		return nil, 0, err
	}
	return src[:n], n, nil
}

func (c *bigIntKeyCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	p, _ := prepared.(*big.Int)
	if v == nil && p == nil {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if p == nil {
		return 1, nil
	}
	return v.(*big.Int).Cmp(p), nil
}

// bigIntValueCodec encodes *big.Int for a value position using the same
// sign/length header as the key form, followed directly by the body (no
// additional escaping needed since value encodings need not be
// order-preserving and the header already carries the length).
type bigIntValueCodec struct {
	nullable bool
}

func (c *bigIntValueCodec) MinSize() int { return 1 }

func (c *bigIntValueCodec) EncodeSize(value interface{}) (int, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).EncodeSize(value)
}

func (c *bigIntValueCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).Encode(dst, value)
}

func (c *bigIntValueCodec) Decode(src []byte) (interface{}, int, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).Decode(src)
}

func (c *bigIntValueCodec) DecodeSkip(src []byte) (int, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).DecodeSkip(src)
}

func (c *bigIntValueCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).FilterPrepare(arg)
}

func (c *bigIntValueCodec) FilterDecode(src []byte) ([]byte, int, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).FilterDecode(src)
}

func (c *bigIntValueCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	return (&bigIntKeyCodec{nullable: c.nullable}).FilterCompare(raw, prepared)
}

func init() {
	for _, desc := range []bool{false, true} {
		register(TBigInt, NotNull, desc, KeyNonLast, &bigIntKeyCodec{descending: desc})
		register(TBigInt, NotNull, desc, KeyLast, &bigIntKeyCodec{descending: desc})
		register(TBigInt, Nullable, desc, KeyNonLast, &bigIntKeyCodec{descending: desc, nullable: true})
		register(TBigInt, Nullable, desc, KeyLast, &bigIntKeyCodec{descending: desc, nullable: true})
	}
	register(TBigInt, NotNull, false, ValueNonLast, &bigIntValueCodec{})
	register(TBigInt, NotNull, false, ValueLast, &bigIntValueCodec{})
	register(TBigInt, Nullable, false, ValueNonLast, &bigIntValueCodec{nullable: true})
	register(TBigInt, Nullable, false, ValueLast, &bigIntValueCodec{nullable: true})
}
