package domain

import "testing"

func TestMakeSKU(t *testing.T) {
	t.Parallel()

	got := MakeSKU("iPhone 15  Pro", "256GB", " Black Titanium ")
	want := "IPHONE 15 PRO-256GB-BLACK TITANIUM"
	if got != want {
		t.Fatalf("MakeSKU = %q, want %q", got, want)
	}

	if got := MakeSKU("Galaxy S24", "", "Gray"); got != "GALAXY S24-GRAY" {
		t.Fatalf("empty storage not skipped: %q", got)
	}
}

func TestMakeGroupKeyCaseInsensitive(t *testing.T) {
	t.Parallel()

	a := MakeGroupKey("iPhone 15", "128GB", "Blue")
	b := MakeGroupKey("IPHONE  15", "128gb", "BLUE")
	if a != b {
		t.Fatalf("group keys differ: %q vs %q", a, b)
	}
}

func TestNormalizeSupplier(t *testing.T) {
	t.Parallel()

	if got := NormalizeSupplier("  Tech   Cell  "); got != "Tech Cell" {
		t.Fatalf("NormalizeSupplier = %q", got)
	}
}

func TestGroupMinimum(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{
		Records: []ProductRecord{
			{Model: "A", Storage: "64GB", Color: "Red", Price: 105, Supplier: "S1"},
			{Model: "A", Storage: "64GB", Color: "Red", Price: 100, Supplier: "S2"},
			{Model: "B", Storage: "64GB", Color: "Red", Price: 50, Supplier: "S1"},
		},
	}

	min, ok := snap.GroupMinimum(MakeGroupKey("a", "64gb", "red"))
	if !ok {
		t.Fatal("expected group to exist")
	}
	if min.Price != 100 || min.Supplier != "S2" {
		t.Fatalf("unexpected minimum: %+v", min)
	}

	if _, ok := snap.GroupMinimum("missing|x|y"); ok {
		t.Fatal("expected missing group")
	}
}
