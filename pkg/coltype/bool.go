package coltype

import "fmt"

// boolKeyCodec encodes a bool as a single byte: 0x00 false, 0x01 true.
// The nullable variant shifts by one (0x00 null, 0x01 false, 0x02 true) so
// null sorts before both when ascending, matching §8 property 3.
type boolKeyCodec struct {
	descending bool
	nullable   bool
}

func (c *boolKeyCodec) MinSize() int { return 1 }

func (c *boolKeyCodec) encodeByte(value interface{}) (byte, error) {
	if value == nil {
		if !c.nullable {
			return 0, fmt.Errorf("coltype: nil value for non-nullable bool key column")
		}
		return 0x00, nil
	}
	b, ok := value.(bool)
	if !ok {
		return 0, &ErrUnsupportedValue{Value: value}
	}
	if c.nullable {
		if b {
			return 0x02, nil
		}
		return 0x01, nil
	}
	if b {
		return 0x01, nil
	}
	return 0x00, nil
}

func (c *boolKeyCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	b, err := c.encodeByte(value)
	if err != nil {
		return nil, err
	}
	if c.descending {
		b = ^b
	}
	return append(dst, b), nil
}

func (c *boolKeyCodec) EncodeSize(value interface{}) (int, error) { return 1, nil }

func (c *boolKeyCodec) Decode(src []byte) (interface{}, int, error) {
	if len(src) < 1 {
		return nil, 0, fmt.Errorf("coltype: truncated bool key column")
	}
	b := src[0]
	if c.descending {
		b = ^b
	}
	if c.nullable {
		switch b {
		case 0x00:
			return nil, 1, nil
		case 0x01:
			return false, 1, nil
		case 0x02:
			return true, 1, nil
		default:
			return nil, 0, fmt.Errorf("coltype: invalid nullable bool marker %#x", b)
		}
	}
	return b != 0, 1, nil
}

func (c *boolKeyCodec) DecodeSkip(src []byte) (int, error) { _, n, err := c.Decode(src); return n, err }

func (c *boolKeyCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	return c.encodeByte(arg)
}

func (c *boolKeyCodec) FilterDecode(src []byte) ([]byte, int, error) {
	if len(src) < 1 {
		return nil, 0, fmt.Errorf("coltype: truncated bool key column")
	}
	return src[:1], 1, nil
}

func (c *boolKeyCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	b := raw[0]
	if c.descending {
		b = ^b
	}
	p := prepared.(byte)
	switch {
	case b < p:
		return -1, nil
	case b > p:
		return 1, nil
	default:
		return 0, nil
	}
}

// boolValueCodec: one byte, 0=false/1=true; nullable variant shifts by one
// so 0 means null.
type boolValueCodec struct {
	nullable bool
}

func (c *boolValueCodec) MinSize() int { return 1 }

func (c *boolValueCodec) EncodeSize(value interface{}) (int, error) { return 1, nil }

func (c *boolValueCodec) Encode(dst []byte, value interface{}) ([]byte, error) {
	if value == nil {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil value for non-nullable bool value column")
		}
		return append(dst, 0x00), nil
	}
	b, ok := value.(bool)
	if !ok {
		return nil, &ErrUnsupportedValue{Value: value}
	}
	if c.nullable {
		if b {
			return append(dst, 0x02), nil
		}
		return append(dst, 0x01), nil
	}
	if b {
		return append(dst, 0x01), nil
	}
	return append(dst, 0x00), nil
}

func (c *boolValueCodec) Decode(src []byte) (interface{}, int, error) {
	if len(src) < 1 {
		return nil, 0, fmt.Errorf("coltype: truncated bool value column")
	}
	b := src[0]
	if c.nullable {
		switch b {
		case 0x00:
			return nil, 1, nil
		case 0x01:
			return false, 1, nil
		case 0x02:
			return true, 1, nil
		}
		return nil, 0, fmt.Errorf("coltype: invalid nullable bool marker %#x", b)
	}
	return b != 0, 1, nil
}

func (c *boolValueCodec) DecodeSkip(src []byte) (int, error) { _, n, err := c.Decode(src); return n, err }

func (c *boolValueCodec) FilterPrepare(arg interface{}) (interface{}, error) {
	if arg == nil {
		if !c.nullable {
			return nil, fmt.Errorf("coltype: nil filter argument for non-nullable bool column")
		}
		return nil, nil
	}
	b, ok := arg.(bool)
	if !ok {
		return nil, &ErrUnsupportedValue{Value: arg}
	}
	return b, nil
}

func (c *boolValueCodec) FilterDecode(src []byte) ([]byte, int, error) {
	if len(src) < 1 {
		return nil, 0, fmt.Errorf("coltype: truncated bool value column")
	}
	return src[:1], 1, nil
}

func (c *boolValueCodec) FilterCompare(raw []byte, prepared interface{}) (int, error) {
	v, _, err := c.Decode(raw)
	if err != nil {
		return 0, err
	}
	pb, _ := prepared.(bool)
	pn := prepared == nil
	vn := v == nil
	switch {
	case vn && pn:
		return 0, nil
	case vn:
		return -1, nil
	case pn:
		return 1, nil
	case v.(bool) == pb:
		return 0, nil
	case !v.(bool) && pb:
		return -1, nil
	default:
		return 1, nil
	}
}

func init() {
	for _, desc := range []bool{false, true} {
		register(TBool, NotNull, desc, KeyNonLast, &boolKeyCodec{descending: desc})
		register(TBool, NotNull, desc, KeyLast, &boolKeyCodec{descending: desc})
		register(TBool, Nullable, desc, KeyNonLast, &boolKeyCodec{descending: desc, nullable: true})
		register(TBool, Nullable, desc, KeyLast, &boolKeyCodec{descending: desc, nullable: true})
	}
	register(TBool, NotNull, false, ValueNonLast, &boolValueCodec{})
	register(TBool, NotNull, false, ValueLast, &boolValueCodec{})
	register(TBool, Nullable, false, ValueNonLast, &boolValueCodec{nullable: true})
	register(TBool, Nullable, false, ValueLast, &boolValueCodec{nullable: true})
}
