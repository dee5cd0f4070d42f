package backend

import "testing"

func testBackends() []Backend {
	return []Backend{
		{ID: "aaaa1111", Name: "site-a"},
		{ID: "bbbb2222", Name: "site-b"},
		{ID: "cccc3333", Name: "site-c"},
	}
}

func TestResolveAll(t *testing.T) {
	got, err := Resolve(testBackends(), "all")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 backends, got %d", len(got))
	}
}

func TestResolveByName(t *testing.T) {
	got, err := Resolve(testBackends(), "site-b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Name != "site-b" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveByIndex(t *testing.T) {
	got, err := Resolve(testBackends(), "2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Name != "site-b" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveByIndexOutOfRange(t *testing.T) {
	if _, err := Resolve(testBackends(), "99"); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestResolveByIDPrefix(t *testing.T) {
	got, err := Resolve(testBackends(), "cccc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "cccc3333" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveByRange(t *testing.T) {
	got, err := Resolve(testBackends(), "1-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || got[0].Name != "site-a" || got[1].Name != "site-b" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveRangeCapsAtMax(t *testing.T) {
	many := make([]Backend, 1000)
	for i := range many {
		many[i] = Backend{ID: string(rune('a' + i%26)), Name: "site"}
	}
	got, err := Resolve(many, "1-1000")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != maxRangeSelection {
		t.Fatalf("expected range capped at %d, got %d", maxRangeSelection, len(got))
	}
}

func TestResolveInvalidRangeOrder(t *testing.T) {
	if _, err := Resolve(testBackends(), "3-1"); err == nil {
		t.Fatalf("expected error for descending range")
	}
}

func TestResolveNoMatch(t *testing.T) {
	if _, err := Resolve(testBackends(), "nonexistent"); err == nil {
		t.Fatalf("expected error for unmatched selector")
	}
}

func TestResolveEmptySelector(t *testing.T) {
	if _, err := Resolve(testBackends(), "  "); err == nil {
		t.Fatalf("expected error for empty selector")
	}
}
