package memkv

import (
	"bytes"
	"context"
	"testing"

	"github.com/camforge/rowkv/pkg/kvengine"
)

func TestCursorScansInKeyOrder(t *testing.T) {
	b := New()
	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "widgets")
	if err != nil {
		t.Fatal(err)
	}
	v := idx.View()
	for _, kv := range []struct{ k, v string }{
		{"b", "2"}, {"a", "1"}, {"c", "3"},
	} {
		if err := v.Store(nil, []byte(kv.k), []byte(kv.v)); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := v.NewCursor(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	var got []string
	for err := cur.First(); err == nil; err = cur.Next() {
		k, err := cur.Key()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(k))
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

func TestTransactionLockConflict(t *testing.T) {
	b := New()
	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "widgets")
	if err != nil {
		t.Fatal(err)
	}
	v := idx.View()

	t1, err := v.NewTransaction(ctx, kvengine.LockExclusive)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Store(t1, []byte("k"), []byte("1")); err != nil {
		t.Fatal(err)
	}

	t2, err := v.NewTransaction(ctx, kvengine.LockExclusive)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Store(t2, []byte("k"), []byte("2")); err == nil {
		t.Fatal("expected lock conflict error")
	}

	if err := t1.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := v.Store(t2, []byte("k"), []byte("2")); err != nil {
		t.Fatalf("expected store to succeed after t1 released its lock: %v", err)
	}
}

func TestCorruptDatabaseForUnknownIndexID(t *testing.T) {
	b := New()
	_, err := b.IndexByID(999)
	var cderr *kvengine.CorruptDatabaseError
	if !errorsAs(err, &cderr) {
		t.Fatalf("expected *kvengine.CorruptDatabaseError, got %v", err)
	}
}

func errorsAs(err error, target **kvengine.CorruptDatabaseError) bool {
	cderr, ok := err.(*kvengine.CorruptDatabaseError)
	if !ok {
		return false
	}
	*target = cderr
	return true
}

func TestSorterMergesBatches(t *testing.T) {
	b := New()
	s, err := b.NewSorter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	batch1 := []kvengine.KV{{Key: []byte("c"), Value: []byte("3")}, {Key: []byte("a"), Value: []byte("1")}}
	batch2 := []kvengine.KV{{Key: []byte("b"), Value: []byte("2")}}
	if err := s.AddBatch(batch1, 0, len(batch1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddBatch(batch2, 0, len(batch2)); err != nil {
		t.Fatal(err)
	}
	src, err := s.FinishScan()
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	var keys []string
	for src.Next() {
		keys = append(keys, string(src.Key()))
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if !bytes.Equal([]byte("1"), batch1[1].Value) {
		t.Fatal("sanity check fixture mutated")
	}
}
