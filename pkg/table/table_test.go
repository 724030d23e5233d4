package table

import (
	"context"
	"testing"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/kvengine/memkv"
	"github.com/camforge/rowkv/pkg/rowschema"
	"github.com/camforge/rowkv/pkg/secondary"
)

func widgetInfo(t *testing.T) *rowschema.RowInfo {
	t.Helper()
	info, err := rowschema.NewRowInfo("widget", 1, []*rowschema.Column{
		{Name: "id", Type: coltype.TInt64},
	}, []*rowschema.Column{
		{Name: "name", Type: coltype.TString},
		{Name: "price", Type: coltype.TInt64},
	})
	if err != nil {
		t.Fatal(err)
	}
	return info
}

type testEnv struct {
	backend kvengine.Backend
	primary kvengine.Index
	tbl     *Table
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := memkv.New()
	primary, err := backend.OpenIndex(context.Background(), "widget")
	if err != nil {
		t.Fatal(err)
	}
	info := widgetInfo(t)
	source := rowschema.SourceFunc(func(rowType string, schemaVersion int) (*rowschema.RowInfo, error) {
		if rowType == info.RowType && schemaVersion == info.SchemaVersion {
			return info, nil
		}
		return nil, nil
	})
	registry := rowschema.NewRegistry(source, 0)
	tbl, err := New(primary, registry, info)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{backend: backend, primary: primary, tbl: tbl}
}

func TestStoreAndScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Store(ctx, nil, row); err != nil {
		t.Fatal(err)
	}

	scanner, err := env.tbl.Scan(ctx, "id>=0", nil, 0, kvengine.LockNone)
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	got, err := scanner.Step()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got["name"] != "gadget" {
		t.Fatalf("got %v, want gadget row", got)
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Insert(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
	if err := env.tbl.Insert(ctx, nil, row); err != ErrAlreadyExists {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestReplaceRequiresExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Replace(ctx, nil, row); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := env.tbl.Insert(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
	row["price"] = int64(150)
	if err := env.tbl.Replace(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Insert(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
	if err := env.tbl.Delete(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
	scanner, err := env.tbl.Scan(ctx, "id>=0", nil, 0, kvengine.LockNone)
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()
	got, err := scanner.Step()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %v, want no rows after delete", got)
	}
}

func TestUpdateChangesPrimaryKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldRow := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Insert(ctx, nil, oldRow); err != nil {
		t.Fatal(err)
	}
	newRow := Row{"id": int64(2), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Update(ctx, nil, oldRow, newRow); err != nil {
		t.Fatal(err)
	}

	scanner, err := env.tbl.Scan(ctx, "id>=0", nil, 0, kvengine.LockNone)
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	var ids []int64
	for {
		row, err := scanner.Step()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		ids = append(ids, row["id"].(int64))
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("got ids %v, want [2]", ids)
	}
}

func TestMergePatchesPartialColumns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Insert(ctx, nil, row); err != nil {
		t.Fatal(err)
	}
	if err := env.tbl.Merge(ctx, nil, Row{"id": int64(1), "price": int64(200)}); err != nil {
		t.Fatal(err)
	}

	scanner, err := env.tbl.Scan(ctx, "id>=0", nil, 0, kvengine.LockNone)
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()
	got, err := scanner.Step()
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "gadget" || got["price"] != int64(200) {
		t.Fatalf("got %v, want name unchanged and price=200", got)
	}
}

func TestMergeMissingRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.tbl.Merge(ctx, nil, Row{"id": int64(9), "price": int64(1)}); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestExchangeSwapsPrimaryKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := Row{"id": int64(1), "name": "alpha", "price": int64(10)}
	b := Row{"id": int64(2), "name": "beta", "price": int64(20)}
	if err := env.tbl.Insert(ctx, nil, a); err != nil {
		t.Fatal(err)
	}
	if err := env.tbl.Insert(ctx, nil, b); err != nil {
		t.Fatal(err)
	}

	if err := env.tbl.Exchange(ctx, nil, a, b); err != nil {
		t.Fatal(err)
	}

	scanner, err := env.tbl.Scan(ctx, "id>=0", nil, 0, kvengine.LockNone)
	if err != nil {
		t.Fatal(err)
	}
	defer scanner.Close()

	byID := map[int64]Row{}
	for {
		row, err := scanner.Step()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		byID[row["id"].(int64)] = row
	}
	if len(byID) != 2 {
		t.Fatalf("got %d rows, want 2", len(byID))
	}
	if byID[1]["name"] != "beta" {
		t.Fatalf("id=1 got name %v, want beta", byID[1]["name"])
	}
	if byID[2]["name"] != "alpha" {
		t.Fatalf("id=2 got name %v, want alpha", byID[2]["name"])
	}
}

func TestReconcilePropagatesToSecondary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	secIdx, err := env.backend.OpenIndex(ctx, "widget_by_name")
	if err != nil {
		t.Fatal(err)
	}
	descriptorsIdx, err := env.backend.OpenIndex(ctx, "widget_descriptors")
	if err != nil {
		t.Fatal(err)
	}

	desc := rowschema.EncodeDescriptor(
		[]rowschema.DescriptorColumn{{Name: "name"}},
		[]rowschema.DescriptorColumn{{Name: "id"}},
	)
	idValue := coltype.PutVarPrefix(nil, uint64(secIdx.ID()))
	if err := descriptorsIdx.View().Store(nil, desc, idValue); err != nil {
		t.Fatal(err)
	}

	mgr := secondary.NewManager()
	if err := env.tbl.Reconcile(ctx, nil, descriptorsIdx.View(), env.backend, mgr); err != nil {
		t.Fatal(err)
	}

	row := Row{"id": int64(1), "name": "gadget", "price": int64(100)}
	if err := env.tbl.Insert(ctx, nil, row); err != nil {
		t.Fatal(err)
	}

	cur, err := secIdx.View().NewCursor(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	cur.Register()
	if err := cur.First(); err != nil {
		t.Fatalf("expected a propagated secondary row, got %v", err)
	}
}
