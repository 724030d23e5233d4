package rowschema

import (
	"testing"

	"github.com/camforge/rowkv/pkg/coltype"
)

func TestRowCodecKeyValueRoundTrip(t *testing.T) {
	info, err := NewRowInfo("widget", 3, []*Column{
		{Name: "shard", Type: coltype.TInt32},
		{Name: "id", Type: coltype.TString},
	}, []*Column{
		{Name: "weight", Type: coltype.TFloat64},
		{Name: "label", Type: coltype.TString, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	rc, err := NewRowCodec(info)
	if err != nil {
		t.Fatal(err)
	}

	row := map[string]interface{}{
		"shard":  int32(7),
		"id":     "widget-42",
		"weight": 12.5,
		"label":  nil,
	}
	get := func(name string) interface{} { return row[name] }

	keyBytes, err := rc.EncodeKey(nil, get)
	if err != nil {
		t.Fatal(err)
	}
	valueBytes, err := rc.EncodeValue(nil, get)
	if err != nil {
		t.Fatal(err)
	}

	decoded := map[string]interface{}{}
	set := func(name string, v interface{}) { decoded[name] = v }

	n, err := rc.DecodeKey(keyBytes, set)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(keyBytes) {
		t.Fatalf("DecodeKey consumed %d of %d bytes", n, len(keyBytes))
	}

	version, hdr, err := PeekSchemaVersion(valueBytes)
	if err != nil {
		t.Fatal(err)
	}
	if version != 3 {
		t.Fatalf("schema version = %d, want 3", version)
	}
	if err := rc.DecodeValue(valueBytes[hdr:], set); err != nil {
		t.Fatal(err)
	}

	if decoded["shard"].(int32) != 7 {
		t.Fatalf("shard = %v", decoded["shard"])
	}
	if decoded["id"].(string) != "widget-42" {
		t.Fatalf("id = %v", decoded["id"])
	}
	if decoded["weight"].(float64) != 12.5 {
		t.Fatalf("weight = %v", decoded["weight"])
	}
	if decoded["label"] != nil {
		t.Fatalf("label = %v, want nil", decoded["label"])
	}
}

func TestEncodeDecodeDescriptorRoundTrip(t *testing.T) {
	keyCols := []DescriptorColumn{
		{Name: "weight", Descending: true},
		{Name: "id"},
	}
	valueCols := []DescriptorColumn{
		{Name: "shard"},
	}
	enc := EncodeDescriptor(keyCols, valueCols)
	gotKey, gotValue, err := DecodeDescriptor(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotKey) != 2 || gotKey[0] != keyCols[0] || gotKey[1] != keyCols[1] {
		t.Fatalf("key columns mismatch: %+v", gotKey)
	}
	if len(gotValue) != 1 || gotValue[0] != valueCols[0] {
		t.Fatalf("value columns mismatch: %+v", gotValue)
	}
}
