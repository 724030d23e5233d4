package rowfilter

import "testing"

func TestParseAndEval(t *testing.T) {
	f, err := Parse("id>=10&&id<20")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	row := RowFromMap(map[string]interface{}{"id": int64(15)})
	ok, err := f.Eval(row, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Fatalf("expected row to satisfy filter")
	}

	row2 := RowFromMap(map[string]interface{}{"id": int64(25)})
	ok, err = f.Eval(row2, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if ok {
		t.Fatalf("expected row outside range to fail filter")
	}
}

func TestCanonicalizeCollapsesCommutativity(t *testing.T) {
	a, err := Parse("a==1&&b==2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("b==2&&a==1")
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatalf("expected identical canonical strings, got %q vs %q", a.String(), b.String())
	}
}

func TestMultiRangeDNF(t *testing.T) {
	f, err := Parse("id==5||id==7")
	if err != nil {
		t.Fatal(err)
	}
	dnf := f.DNF()
	if len(dnf) != 2 {
		t.Fatalf("expected 2 disjuncts, got %d", len(dnf))
	}
}

func TestPlaceholderBinding(t *testing.T) {
	f, err := Parse("id==?")
	if err != nil {
		t.Fatal(err)
	}
	row := RowFromMap(map[string]interface{}{"id": int64(42)})
	ok, err := f.Eval(row, []interface{}{int64(42)})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected placeholder-bound comparison to match")
	}
}

func TestCacheReusesEquivalentStrings(t *testing.T) {
	c := NewCache()
	if _, err := c.Get("a==1&&b==2"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("b==2&&a==1"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected both original strings recorded, got %d", c.Len())
	}
	f, err := c.Get("a==1&&b==2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(f.String()); err != nil {
		t.Fatal(err)
	}
}

func TestNullEquality(t *testing.T) {
	f, err := Parse("age==null")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := f.Eval(RowFromMap(map[string]interface{}{"age": nil}), nil)
	if err != nil || !ok {
		t.Fatalf("expected null==null to match, got ok=%v err=%v", ok, err)
	}
	ok, err = f.Eval(RowFromMap(map[string]interface{}{"age": int64(5)}), nil)
	if err != nil || ok {
		t.Fatalf("expected non-null to not match ==null, got ok=%v err=%v", ok, err)
	}
}

func TestParenAndNot(t *testing.T) {
	f, err := Parse("!(id<10)")
	if err != nil {
		t.Fatal(err)
	}
	// !(id<10) canonicalizes to id>=10.
	row := RowFromMap(map[string]interface{}{"id": int64(10)})
	ok, err := f.Eval(row, nil)
	if err != nil || !ok {
		t.Fatalf("expected id=10 to satisfy !(id<10), got ok=%v err=%v", ok, err)
	}
}
