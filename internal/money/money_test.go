package money

import (
	"errors"
	"testing"
)

func TestParse_Grammar(t *testing.T) {
	valid := []string{"0", "1", "-1", "95000.00000000", "0.015", "-0.5", "123456789.123456789123456789"}
	for _, s := range valid {
		if _, err := Parse(s, USDScale); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", s, err)
		}
	}

	invalid := []string{"", ".", "1.", ".5", "1..2", "1,5", "1e5", "+1", "abc", "1.5.5", "- 1", "0x10"}
	for _, s := range invalid {
		if _, err := Parse(s, USDScale); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Parse(%q) expected ErrInvalidFormat, got %v", s, err)
		}
	}
}

func TestParse_TruncatesExtraDigits(t *testing.T) {
	// Digits beyond the scale are dropped, never rounded.
	d, err := Parse("1.999999999", USDScale)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.String(); got != "1.99999999" {
		t.Errorf("expected 1.99999999, got %s", got)
	}

	neg, err := Parse("-1.999999999", USDScale)
	if err != nil {
		t.Fatal(err)
	}
	if got := neg.String(); got != "-1.99999999" {
		t.Errorf("expected -1.99999999, got %s", got)
	}
}

func TestString_PadsToScale(t *testing.T) {
	tests := []struct {
		in    string
		scale int
		want  string
	}{
		{"950", USDScale, "950.00000000"},
		{"0.01", AssetScale, "0.010000000000000000"},
		{"0", USDScale, "0.00000000"},
		{"-14.25", USDScale, "-14.25000000"},
		{"5", 0, "5"},
	}
	for _, tt := range tests {
		d := MustParse(tt.in, tt.scale)
		if got := d.String(); got != tt.want {
			t.Errorf("String(%q, %d) = %s, want %s", tt.in, tt.scale, got, tt.want)
		}
	}
}

func TestAddSub(t *testing.T) {
	a := MustParse("100000.00000000", USDScale)
	b := MustParse("964.25000000", USDScale)

	if got := Sub(a, b, USDScale).String(); got != "99035.75000000" {
		t.Errorf("Sub = %s, want 99035.75000000", got)
	}
	if got := Add(Sub(a, b, USDScale), b, USDScale).String(); got != a.String() {
		t.Errorf("Add(Sub(a,b),b) = %s, want %s", got, a)
	}
}

func TestAdd_MixedScales(t *testing.T) {
	// USD-scale and asset-scale operands can be combined; the result is
	// truncated to the requested scale.
	a := MustParse("1.5", USDScale)
	b := MustParse("0.000000000000000001", AssetScale)
	if got := Add(a, b, USDScale).String(); got != "1.50000000" {
		t.Errorf("Add = %s, want 1.50000000", got)
	}
	if got := Add(a, b, AssetScale).String(); got != "1.500000000000000001" {
		t.Errorf("Add = %s, want 1.500000000000000001", got)
	}
}

func TestMul_Truncates(t *testing.T) {
	price := MustParse("95000.00000000", USDScale)
	qty := MustParse("0.010000000000000000", AssetScale)
	if got := Mul(price, qty, USDScale).String(); got != "950.00000000" {
		t.Errorf("Mul = %s, want 950.00000000", got)
	}

	// 0.1 * 0.000000001 = 0.0000000001 which truncates to zero at scale 8.
	a := MustParse("0.1", USDScale)
	b := MustParse("0.000000001", 9)
	if got := Mul(a, b, USDScale); got.Sign() != 0 {
		t.Errorf("Mul = %s, want 0", got)
	}
}

func TestDiv(t *testing.T) {
	a := MustParse("1", USDScale)
	b := MustParse("3", USDScale)
	got, err := Div(a, b, USDScale)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "0.33333333" {
		t.Errorf("Div = %s, want 0.33333333", got)
	}

	if _, err := Div(a, Zero(USDScale), USDScale); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestCmp(t *testing.T) {
	a := MustParse("964.25000000", USDScale)
	b := MustParse("964.25", USDScale)
	if Cmp(a, b, USDScale) != 0 {
		t.Error("equal values should compare equal")
	}

	if Cmp(MustParse("95000", USDScale), MustParse("96000", USDScale), USDScale) != -1 {
		t.Error("95000 should compare less than 96000")
	}

	// Comparison only considers digits within the scale.
	x := MustParse("1.000000000000000001", AssetScale)
	y := MustParse("1", AssetScale)
	if Cmp(x, y, USDScale) != 0 {
		t.Error("values equal within scale 8 should compare equal")
	}
	if Cmp(x, y, AssetScale) != 1 {
		t.Error("values differing at scale 18 should compare unequal")
	}
}

func TestGTE(t *testing.T) {
	balance := MustParse("964.25000000", USDScale)
	if !GTE(balance, MustParse("964.25000000", USDScale), USDScale) {
		t.Error("expected balance >= equal total")
	}
	if GTE(balance, MustParse("964.25000001", USDScale), USDScale) {
		t.Error("expected balance < larger total")
	}
}

func TestMarshalJSON(t *testing.T) {
	d := MustParse("950", USDScale)
	got, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `"950.00000000"` {
		t.Errorf("MarshalJSON = %s", got)
	}
}
