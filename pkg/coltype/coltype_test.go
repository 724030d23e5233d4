package coltype

import (
	"bytes"
	"math"
	"math/big"
	"testing"
)

func roundTrip(t *testing.T, c Codec, value interface{}) interface{} {
	t.Helper()
	enc, err := c.Encode(nil, value)
	if err != nil {
		t.Fatalf("Encode(%v): %v", value, err)
	}
	if n, err := c.EncodeSize(value); err != nil {
		t.Fatalf("EncodeSize(%v): %v", value, err)
	} else if n != len(enc) {
		t.Fatalf("EncodeSize(%v) = %d, Encode produced %d bytes", value, n, len(enc))
	}
	got, n, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode(%x): %v", enc, err)
	}
	if n != len(enc) {
		t.Fatalf("Decode(%x) consumed %d of %d bytes", enc, n, len(enc))
	}
	return got
}

func TestIntKeyRoundTripAndOrder(t *testing.T) {
	c, err := ForColumn(TInt32, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	values := []int32{math.MinInt32, -1000, -1, 0, 1, 1000, math.MaxInt32}
	var encs [][]byte
	for _, v := range values {
		got := roundTrip(t, c, v)
		if got.(int32) != v {
			t.Fatalf("round trip: got %v want %v", got, v)
		}
		enc, _ := c.Encode(nil, v)
		encs = append(encs, enc)
	}
	for i := 1; i < len(encs); i++ {
		if bytes.Compare(encs[i-1], encs[i]) >= 0 {
			t.Fatalf("ascending order violated between %v and %v", values[i-1], values[i])
		}
	}
}

func TestIntKeyDescendingInvertsOrder(t *testing.T) {
	asc, err := ForColumn(TInt32, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := ForColumn(TInt32, NotNull, true, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	a1, _ := asc.Encode(nil, int32(1))
	a2, _ := asc.Encode(nil, int32(2))
	if bytes.Compare(a1, a2) >= 0 {
		t.Fatalf("ascending codec not ascending")
	}
	d1, _ := desc.Encode(nil, int32(1))
	d2, _ := desc.Encode(nil, int32(2))
	if bytes.Compare(d1, d2) <= 0 {
		t.Fatalf("descending codec not descending")
	}
}

func TestNullableIntKeySortsBeforeNonNull(t *testing.T) {
	c, err := ForColumn(TInt32, Nullable, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	nullEnc, _ := c.Encode(nil, nil)
	minEnc, _ := c.Encode(nil, int32(math.MinInt32))
	if bytes.Compare(nullEnc, minEnc) >= 0 {
		t.Fatalf("null encoding must sort before every non-null value")
	}
	got := roundTrip(t, c, nil)
	if got != nil {
		t.Fatalf("round trip of nil: got %v", got)
	}
}

func TestNullableIntKeyDescendingSortsAfterNonNull(t *testing.T) {
	c, err := ForColumn(TInt32, Nullable, true, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	nullEnc, _ := c.Encode(nil, nil)
	maxEnc, _ := c.Encode(nil, int32(math.MaxInt32))
	if bytes.Compare(nullEnc, maxEnc) <= 0 {
		t.Fatalf("descending null encoding must sort after every non-null value")
	}
	got := roundTrip(t, c, nil)
	if got != nil {
		t.Fatalf("round trip of nil: got %v", got)
	}
	got = roundTrip(t, c, int32(math.MaxInt32))
	if got.(int32) != math.MaxInt32 {
		t.Fatalf("round trip: got %v", got)
	}
}

func TestFloatKeyRoundTripAndOrder(t *testing.T) {
	c, err := ForColumn(TFloat64, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	values := []float64{math.Inf(-1), -1e100, -1, -0.0001, 0, 0.0001, 1, 1e100, math.Inf(1)}
	var encs [][]byte
	for _, v := range values {
		got := roundTrip(t, c, v)
		if got.(float64) != v {
			t.Fatalf("round trip: got %v want %v", got, v)
		}
		enc, _ := c.Encode(nil, v)
		encs = append(encs, enc)
	}
	for i := 1; i < len(encs); i++ {
		if bytes.Compare(encs[i-1], encs[i]) >= 0 {
			t.Fatalf("ascending order violated between %v and %v", values[i-1], values[i])
		}
	}
}

func TestBoolKeyOrder(t *testing.T) {
	c, err := ForColumn(TBool, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := c.Encode(nil, false)
	tr, _ := c.Encode(nil, true)
	if bytes.Compare(f, tr) >= 0 {
		t.Fatalf("false must sort before true")
	}
}

func TestStringKeyRoundTripAndOrder(t *testing.T) {
	c, err := ForColumn(TString, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	values := []string{"", "a", "aa", "ab", "b", "b\x00c", "b\x01c"}
	var encs [][]byte
	for _, v := range values {
		got := roundTrip(t, c, v)
		if got.(string) != v {
			t.Fatalf("round trip: got %q want %q", got, v)
		}
		enc, _ := c.Encode(nil, v)
		encs = append(encs, enc)
	}
	for i := 1; i < len(encs); i++ {
		if bytes.Compare(encs[i-1], encs[i]) >= 0 {
			t.Fatalf("ascending order violated between %q and %q", values[i-1], values[i])
		}
	}
}

func TestStringKeyLastRoundTrip(t *testing.T) {
	c, err := ForColumn(TString, NotNull, false, KeyLast)
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, c, "anything\x00goes\x01here")
	if got.(string) != "anything\x00goes\x01here" {
		t.Fatalf("round trip: got %q", got)
	}
}

func TestBytesValueNullableLastRoundTrip(t *testing.T) {
	c, err := ForColumn(TBytes, Nullable, false, ValueLast)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range [][]byte{nil, {}, {1, 2, 3}} {
		var arg interface{}
		if v != nil {
			arg = v
		}
		got := roundTrip(t, c, arg)
		if arg == nil {
			if got != nil {
				t.Fatalf("round trip of nil: got %v", got)
			}
			continue
		}
		gb, ok := got.([]byte)
		if !ok || !bytes.Equal(gb, v) {
			t.Fatalf("round trip: got %v want %v", got, v)
		}
	}
}

func TestBigIntKeyRoundTripAndOrder(t *testing.T) {
	c, err := ForColumn(TBigInt, NotNull, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	raw := []string{
		"-123456789012345678901234567890",
		"-1000000",
		"-1",
		"0",
		"1",
		"1000000",
		"123456789012345678901234567890",
	}
	var values []*big.Int
	for _, s := range raw {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			t.Fatalf("bad test fixture %q", s)
		}
		values = append(values, v)
	}
	var encs [][]byte
	for _, v := range values {
		got := roundTrip(t, c, v)
		gv, ok := got.(*big.Int)
		if !ok || gv.Cmp(v) != 0 {
			t.Fatalf("round trip: got %v want %v", got, v)
		}
		enc, _ := c.Encode(nil, v)
		encs = append(encs, enc)
	}
	for i := 1; i < len(encs); i++ {
		if bytes.Compare(encs[i-1], encs[i]) >= 0 {
			t.Fatalf("ascending order violated between %v and %v", values[i-1], values[i])
		}
	}
}

func TestBigIntKeyNullableSortsFirst(t *testing.T) {
	c, err := ForColumn(TBigInt, Nullable, false, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	nullEnc, _ := c.Encode(nil, nil)
	bigNeg, _ := new(big.Int).SetString("-999999999999999999999999", 10)
	negEnc, _ := c.Encode(nil, bigNeg)
	if bytes.Compare(nullEnc, negEnc) >= 0 {
		t.Fatalf("null encoding must sort before every non-null value")
	}
}

func TestBigIntKeyNullableDescendingSortsLast(t *testing.T) {
	c, err := ForColumn(TBigInt, Nullable, true, KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	nullEnc, _ := c.Encode(nil, nil)
	bigPos, _ := new(big.Int).SetString("999999999999999999999999", 10)
	posEnc, _ := c.Encode(nil, bigPos)
	if bytes.Compare(nullEnc, posEnc) <= 0 {
		t.Fatalf("descending null encoding must sort after every non-null value")
	}
}

func TestVarPrefixRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0x3fffffff} {
		dst := PutVarPrefix(nil, n)
		got, used, err := GetVarPrefix(dst)
		if err != nil {
			t.Fatalf("GetVarPrefix(%d): %v", n, err)
		}
		if got != n || used != len(dst) {
			t.Fatalf("round trip of %d: got %d using %d of %d bytes", n, got, used, len(dst))
		}
		if VarPrefixSize(n) != len(dst) {
			t.Fatalf("VarPrefixSize(%d) = %d, PutVarPrefix wrote %d", n, VarPrefixSize(n), len(dst))
		}
	}
}
