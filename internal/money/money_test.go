package money

import "testing"

func TestParseRoundsToScale(t *testing.T) {
	d, err := Parse("12.505")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "12.51" {
		t.Fatalf("expected 12.51, got %s", d)
	}
	if _, err := Parse("not-a-number"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLineIsExact(t *testing.T) {
	// 0.10 * 3 must be exactly 0.30, not 0.30000000000000004.
	price := MustParse("0.10")
	if got := Line(price, 3); got.String() != "0.3" {
		t.Fatalf("expected 0.3, got %s", got)
	}
	if got := Line(MustParse("19.99"), 7); got.String() != "139.93" {
		t.Fatalf("expected 139.93, got %s", got)
	}
	if got := Line(Zero(), 100); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestIsNegative(t *testing.T) {
	if !IsNegative(MustParse("-1")) {
		t.Fatal("-1 should be negative")
	}
	if IsNegative(Zero()) {
		t.Fatal("zero is not negative")
	}
}
