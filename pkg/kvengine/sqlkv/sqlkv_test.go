package sqlkv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/camforge/rowkv/pkg/kvengine"
)

// modernc.org/sqlite is pure Go, so the sqlite dialect can run for real
// without any external service; mysql/postgres need a running server and
// are exercised only when their DSN env vars are set.

func openSQLite(t *testing.T) kvengine.Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	return b
}

func TestSQLiteCursorScansInKeyOrder(t *testing.T) {
	b := openSQLite(t)
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

func TestSQLiteUpsertOverwritesValue(t *testing.T) {
	b := openSQLite(t)
	defer b.Close()

	ctx := context.Background()
	idx, _ := b.OpenIndex(ctx, "widgets")
	v := idx.View()

	if err := v.Store(nil, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	if err := v.Store(nil, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Store v2: %v", err)
	}

	c, err := v.NewCursor(nil)
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	defer c.Close()
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	val, err := c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(val) != "v2" {
		t.Fatalf("got %q, want v2", val)
	}
}

func TestIndexByIDUnknownIsCorruptDatabase(t *testing.T) {
	b := openSQLite(t)
	defer b.Close()

	_, err := b.IndexByID(999)
	if _, ok := err.(*kvengine.CorruptDatabaseError); !ok {
		t.Fatalf("got %v (%T), want *kvengine.CorruptDatabaseError", err, err)
	}
}

func TestMySQLAgainstLiveServer(t *testing.T) {
	dsn := os.Getenv("ROWKV_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("ROWKV_TEST_MYSQL_DSN not set, skipping live MySQL test")
	}
	b, err := Open("mysql", dsn)
	if err != nil {
		t.Fatalf("Open(mysql): %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "rowkv_test_widgets")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	v := idx.View()
	if err := v.Store(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ok, err := v.Exists(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
}

func TestPostgresAgainstLiveServer(t *testing.T) {
	dsn := os.Getenv("ROWKV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROWKV_TEST_POSTGRES_DSN not set, skipping live Postgres test")
	}
	b, err := Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Open(postgres): %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	idx, err := b.OpenIndex(ctx, "rowkv_test_widgets")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	v := idx.View()
	if err := v.Store(nil, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	if err := v.Store(nil, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Store v2 (upsert): %v", err)
	}
}
