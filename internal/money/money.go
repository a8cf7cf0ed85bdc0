// Package money implements exact base-10 fixed-point arithmetic for
// monetary and asset quantities. Values are scaled big integers; every
// operation takes an explicit scale and truncates digits beyond it.
// Binary floating point is never used for ledger math.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// USDScale is the number of fractional digits for USD amounts.
	USDScale = 8
	// AssetScale is the number of fractional digits for asset quantities.
	AssetScale = 18
)

var (
	// ErrInvalidFormat is returned when an input string does not match the
	// numeric grammar: optional leading minus, digits, optional single
	// decimal point followed by digits.
	ErrInvalidFormat = errors.New("money: invalid numeric string")
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = errors.New("money: division by zero")
)

var numericRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Dec is an immutable fixed-point decimal: units/10^scale.
type Dec struct {
	units *big.Int
	scale int
}

// Parse validates s against the numeric grammar and returns it as a Dec at
// the given scale. Fractional digits beyond the scale are truncated, never
// rounded.
func Parse(s string, scale int) (Dec, error) {
	if !numericRe.MatchString(s) {
		return Dec{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if len(fracPart) > scale {
		fracPart = fracPart[:scale]
	}
	fracPart += strings.Repeat("0", scale-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Dec{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if neg {
		units.Neg(units)
	}
	return Dec{units: units, scale: scale}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string, scale int) Dec {
	d, err := Parse(s, scale)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns 0 at the given scale.
func Zero(scale int) Dec {
	return Dec{units: new(big.Int), scale: scale}
}

// pow10 returns 10^n for n >= 0.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// rescale converts d to the target scale, truncating toward zero when
// precision is dropped.
func (d Dec) rescale(scale int) Dec {
	if d.units == nil {
		return Zero(scale)
	}
	if scale == d.scale {
		return d
	}
	out := new(big.Int)
	if scale > d.scale {
		out.Mul(d.units, pow10(scale-d.scale))
	} else {
		out.Quo(d.units, pow10(d.scale-scale))
	}
	return Dec{units: out, scale: scale}
}

// Add returns a+b truncated to scale.
func Add(a, b Dec, scale int) Dec {
	// Sum at the wider of the operand scales first so that no digit inside
	// the target scale is lost before the addition.
	wide := maxScale(a, b, scale)
	sum := new(big.Int).Add(a.rescale(wide).units, b.rescale(wide).units)
	return Dec{units: sum, scale: wide}.rescale(scale)
}

// Sub returns a-b truncated to scale.
func Sub(a, b Dec, scale int) Dec {
	wide := maxScale(a, b, scale)
	diff := new(big.Int).Sub(a.rescale(wide).units, b.rescale(wide).units)
	return Dec{units: diff, scale: wide}.rescale(scale)
}

// Mul returns a*b truncated to scale. The product is computed exactly
// before truncation.
func Mul(a, b Dec, scale int) Dec {
	au, as := a.unitsOrZero(), a.scale
	bu, bs := b.unitsOrZero(), b.scale
	prod := new(big.Int).Mul(au, bu)
	return Dec{units: prod, scale: as + bs}.rescale(scale)
}

// Div returns a/b truncated to scale. Division by zero is an error.
func Div(a, b Dec, scale int) (Dec, error) {
	bu := b.unitsOrZero()
	if bu.Sign() == 0 {
		return Dec{}, ErrDivisionByZero
	}
	// a/b = a.units * 10^(b.scale + scale - a.scale) / b.units, truncated.
	num := new(big.Int).Set(a.unitsOrZero())
	exp := b.scale + scale - a.scale
	den := new(big.Int).Set(bu)
	if exp >= 0 {
		num.Mul(num, pow10(exp))
	} else {
		den.Mul(den, pow10(-exp))
	}
	return Dec{units: num.Quo(num, den), scale: scale}, nil
}

// Cmp compares a and b using only digits within scale, returning -1, 0 or 1.
func Cmp(a, b Dec, scale int) int {
	return a.rescale(scale).units.Cmp(b.rescale(scale).units)
}

// GTE reports whether a >= b at the given scale.
func GTE(a, b Dec, scale int) bool {
	return Cmp(a, b, scale) >= 0
}

// Sign returns -1, 0 or 1 for negative, zero and positive values.
func (d Dec) Sign() int {
	if d.units == nil {
		return 0
	}
	return d.units.Sign()
}

// Scale returns the number of fractional digits d carries.
func (d Dec) Scale() int {
	return d.scale
}

// String renders d with exactly Scale fractional digits, e.g. "950.00000000".
func (d Dec) String() string {
	units := d.unitsOrZero()
	s := new(big.Int).Abs(units).String()
	if d.scale > 0 {
		if len(s) <= d.scale {
			s = strings.Repeat("0", d.scale-len(s)+1) + s
		}
		s = s[:len(s)-d.scale] + "." + s[len(s)-d.scale:]
	}
	if units.Sign() < 0 {
		s = "-" + s
	}
	return s
}

// MarshalJSON renders the value as a JSON string so clients never see a
// binary float.
func (d Dec) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d Dec) unitsOrZero() *big.Int {
	if d.units == nil {
		return new(big.Int)
	}
	return d.units
}

func maxScale(a, b Dec, scale int) int {
	wide := scale
	if a.scale > wide {
		wide = a.scale
	}
	if b.scale > wide {
		wide = b.scale
	}
	return wide
}
