package sortedscan

import (
	"context"
	"testing"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/kvengine/memkv"
	"github.com/camforge/rowkv/pkg/rowschema"
)

func widgetRowInfo(t *testing.T) *rowschema.RowInfo {
	t.Helper()
	info, err := rowschema.NewRowInfo("widget", 1, []*rowschema.Column{
		{Name: "id", Type: coltype.TInt64},
	}, []*rowschema.Column{
		{Name: "priority", Type: coltype.TInt64},
		{Name: "name", Type: coltype.TString},
	})
	if err != nil {
		t.Fatal(err)
	}
	return info
}

// fakeSource feeds a fixed slice of rows through RowSource, simulating a
// pkg/rowscanner.Scanner without needing a real cursor.
type fakeSource struct {
	info *rowschema.RowInfo
	rows []Row
	pos  int
}

func (f *fakeSource) Step() (Row, error) {
	if f.pos >= len(f.rows) {
		return nil, nil
	}
	row := f.rows[f.pos]
	f.pos++
	return row, nil
}

func (f *fakeSource) RowInfo() *rowschema.RowInfo { return f.info }

func TestSmallModeSortsInMemory(t *testing.T) {
	info := widgetRowInfo(t)
	src := &fakeSource{info: info, rows: []Row{
		{"id": int64(3), "priority": int64(1), "name": "c"},
		{"id": int64(1), "priority": int64(2), "name": "a"},
		{"id": int64(2), "priority": int64(0), "name": "b"},
	}}

	scanner, err := New(context.Background(), src, Config{
		Order: []OrderColumn{{Name: "priority"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	var got []int64
	for {
		row, err := scanner.Step()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		got = append(got, row["id"].(int64))
	}
	want := []int64{2, 3, 1} // priority order: 0, 1, 2
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSmallModeDescending(t *testing.T) {
	info := widgetRowInfo(t)
	src := &fakeSource{info: info, rows: []Row{
		{"id": int64(1), "priority": int64(1), "name": "a"},
		{"id": int64(2), "priority": int64(5), "name": "b"},
		{"id": int64(3), "priority": int64(3), "name": "c"},
	}}

	scanner, err := New(context.Background(), src, Config{
		Order: []OrderColumn{{Name: "priority", Descending: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	var got []int64
	for {
		row, err := scanner.Step()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		got = append(got, row["id"].(int64))
	}
	want := []int64{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBigModeUsesExternalSorter(t *testing.T) {
	info := widgetRowInfo(t)
	order := []OrderColumn{{Name: "priority"}}
	target, err := BuildTargetInfo(info, order)
	if err != nil {
		t.Fatal(err)
	}

	rows := make([]Row, 0, 10)
	for i := int64(10); i >= 1; i-- {
		rows = append(rows, Row{"id": i, "priority": 11 - i, "name": "row"})
	}
	src := &fakeSource{info: info, rows: rows}

	backend := memkv.New()

	scanner, err := New(context.Background(), src, Config{
		Order:        order,
		BigThreshold: 3, // force big mode well under len(rows)
		Backend:      backend,
		TargetInfo:   target,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	var got []int64
	for {
		row, err := scanner.Step()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		got = append(got, row["id"].(int64))
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	// priority = 11 - id is strictly decreasing in id, so ascending
	// priority order means descending id order: 10, 9, ..., 1.
	wantFirst := int64(10)
	if got[0] != wantFirst {
		t.Fatalf("first row id = %d, want %d (lowest priority)", got[0], wantFirst)
	}
	for i := 1; i < len(got); i++ {
		if got[i] >= got[i-1] {
			t.Fatalf("rows not in ascending-priority (descending id) order: %v", got)
		}
	}
}

func TestBuildTargetInfoStuffsResidualColumns(t *testing.T) {
	info := widgetRowInfo(t)
	target, err := BuildTargetInfo(info, []OrderColumn{{Name: "priority"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(target.KeyColumns) != 3 {
		t.Fatalf("expected priority + id + name all stuffed into the sort key, got %d key columns", len(target.KeyColumns))
	}
	if target.KeyColumns[0].Name != "priority" {
		t.Fatalf("expected priority first, got %q", target.KeyColumns[0].Name)
	}
	if len(target.ValueColumns) != 0 {
		t.Fatalf("expected no value columns, got %d", len(target.ValueColumns))
	}
}
