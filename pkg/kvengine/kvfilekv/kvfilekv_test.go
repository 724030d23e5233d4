package kvfilekv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/camforge/rowkv/pkg/kvengine"
)

func TestCursorScansInKeyOrder(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "test.kv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "widgets")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	v := idx.View()

	for _, k := range []string{"b", "a", "c"} {
		if err := v.Store(nil, []byte(k), []byte("val-"+k)); err != nil {
			t.Fatalf("Store(%q): %v", k, err)
		}
	}

	c, err := v.NewCursor(nil)
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	defer c.Close()

	var got []string
	for err = c.First(); err == nil; err = c.Next() {
		key, kerr := c.Key()
		if kerr != nil {
			t.Fatalf("Key: %v", kerr)
		}
		got = append(got, string(key))
	}
	if err != kvengine.ErrNotFound {
		t.Fatalf("scan ended with %v, want ErrNotFound", err)
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTransactionCommitPersistsWrites(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "test.kv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "widgets")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	v := idx.View()

	tx, err := v.NewTransaction(ctx, kvengine.LockExclusive)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := v.Store(tx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ok, err := v.Exists(nil, []byte("k1"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatalf("expected k1 to exist after commit")
	}
}

func TestIndexByIDUnknownIsCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "test.kv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	_, err = b.IndexByID(999)
	if _, ok := err.(*kvengine.CorruptDatabaseError); !ok {
		t.Fatalf("got %v (%T), want *kvengine.CorruptDatabaseError", err, err)
	}
}

func TestSorterMergesBatches(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "test.kv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	s, err := b.NewSorter(context.Background())
	if err != nil {
		t.Fatalf("NewSorter: %v", err)
	}
	batch1 := []kvengine.KV{{Key: []byte("c"), Value: []byte("3")}, {Key: []byte("a"), Value: []byte("1")}}
	batch2 := []kvengine.KV{{Key: []byte("b"), Value: []byte("2")}}
	if err := s.AddBatch(batch1, 0, len(batch1)); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := s.AddBatch(batch2, 0, len(batch2)); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	src, err := s.FinishScan()
	if err != nil {
		t.Fatalf("FinishScan: %v", err)
	}
	defer src.Close()

	var got []string
	for src.Next() {
		got = append(got, string(src.Key()))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
