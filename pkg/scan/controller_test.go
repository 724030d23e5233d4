package scan

import (
	"bytes"
	"testing"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/rowfilter"
	"github.com/camforge/rowkv/pkg/rowschema"
)

func idColumn() *rowschema.Column {
	return &rowschema.Column{Name: "id", Type: coltype.TInt64}
}

func encodeID(t *testing.T, v int64) []byte {
	t.Helper()
	codec, err := coltype.ForColumn(coltype.TInt64, coltype.NotNull, false, coltype.KeyNonLast)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := codec.Encode(nil, v)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

// S2: filter id>=10 && id<20 produces one subrange [be(10), be(20)) with
// an empty residual (the filter itself remains the predicate, but it is
// fully satisfied by every row the range yields).
func TestRangeDerivationS2(t *testing.T) {
	f, err := rowfilter.Parse("id>=10&&id<20")
	if err != nil {
		t.Fatal(err)
	}
	ranges, err := buildRanges(f, nil, idColumn())
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 subrange, got %d", len(ranges))
	}
	want10 := encodeID(t, 10)
	want20 := encodeID(t, 20)
	if !bytes.Equal(ranges[0].Low.Key, want10) {
		t.Fatalf("low bound = %x, want %x", ranges[0].Low.Key, want10)
	}
	if !bytes.Equal(ranges[0].High.Key, want20) {
		t.Fatalf("high bound = %x, want %x", ranges[0].High.Key, want20)
	}
}

// S3: filter id==5 || id==7 produces two subranges sorted by low bound.
func TestMultiRangeS3(t *testing.T) {
	f, err := rowfilter.Parse("id==5||id==7")
	if err != nil {
		t.Fatal(err)
	}
	ranges, err := buildRanges(f, nil, idColumn())
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 subranges, got %d", len(ranges))
	}
	if compareLow(ranges[0], ranges[1]) >= 0 {
		t.Fatalf("expected ranges sorted ascending by low bound")
	}
	want5 := encodeID(t, 5)
	if !bytes.Equal(ranges[0].Low.Key, want5) {
		t.Fatalf("first range low = %x, want %x", ranges[0].Low.Key, want5)
	}
}

func TestEmptyRangeSentinel(t *testing.T) {
	f, err := rowfilter.Parse("id>10&&id<10")
	if err != nil {
		t.Fatal(err)
	}
	ranges, err := buildRanges(f, nil, idColumn())
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || !ranges[0].IsEmpty() {
		t.Fatalf("expected a single EMPTY subrange, got %+v", ranges)
	}
}

func TestControllerNextSkipsEmpty(t *testing.T) {
	f, err := rowfilter.Parse("id>10&&id<10||id==5")
	if err != nil {
		t.Fatal(err)
	}
	registry := rowschema.NewRegistry(rowschema.SourceFunc(func(string, int) (*rowschema.RowInfo, error) {
		return rowschema.NewRowInfo("t", 1, []*rowschema.Column{idColumn()}, nil)
	}), 0)
	factory := NewFactory(f, "t", []*rowschema.Column{idColumn()}, registry)
	ctrl, err := factory.Bind(nil)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for ctrl.Next() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one non-empty subrange visited, got %d", count)
	}
}
