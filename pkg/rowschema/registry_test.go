package rowschema

import (
	"sync/atomic"
	"testing"
)

func testRowInfo(t *testing.T, version int) *RowInfo {
	t.Helper()
	ri, err := NewRowInfo("widget", version, []*Column{
		{Name: "id", Type: 0},
	}, []*Column{
		{Name: "name", Type: 12}, // TString
	})
	if err != nil {
		t.Fatal(err)
	}
	return ri
}

func TestRegistryAcquireCachesAndRefetchesAfterEviction(t *testing.T) {
	var fetches int64
	source := SourceFunc(func(rowType string, version int) (*RowInfo, error) {
		atomic.AddInt64(&fetches, 1)
		return testRowInfo(t, version), nil
	})
	reg := NewRegistry(source, 1)

	info1, err := reg.Acquire("widget", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	again, err := reg.Acquire("widget", 1)
	if err != nil {
		t.Fatal(err)
	}
	if again != info1 {
		t.Fatalf("expected cached identical *RowInfo on second acquire")
	}
	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Fatalf("expected still 1 fetch after cache hit, got %d", got)
	}

	reg.Release("widget", 1)
	reg.Release("widget", 1)

	// Force eviction of the now-unreferenced entry by filling the
	// single-entry cache with a different version.
	if _, err := reg.Acquire("widget", 2); err != nil {
		t.Fatal(err)
	}
	reg.Release("widget", 2)

	if _, err := reg.Acquire("widget", 1); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&fetches); got != 3 {
		t.Fatalf("expected a refetch after eviction, got %d total fetches", got)
	}
}

func TestRegistryMissingSchema(t *testing.T) {
	source := SourceFunc(func(rowType string, version int) (*RowInfo, error) {
		return nil, nil
	})
	reg := NewRegistry(source, 0)
	_, err := reg.Acquire("widget", 1)
	if _, ok := err.(*ErrMissingSchema); !ok {
		t.Fatalf("expected *ErrMissingSchema, got %v", err)
	}
}
