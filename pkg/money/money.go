// Package money provides fixed-point decimal amounts over big.Int, the
// way pkg/helpers/amount.go does it for a single hardcoded decimals
// value, generalized so a value carries its own decimals (the broker
// juggles many chains with different precision in the same process).
package money

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Amount is a fixed-point decimal: value * 10^-decimals.
type Amount struct {
	value    *big.Int
	decimals uint8
}

// Zero returns the zero amount at the given decimals.
func Zero(decimals uint8) Amount {
	return Amount{value: big.NewInt(0), decimals: decimals}
}

// FromUnits builds an Amount directly from smallest-unit integer value.
func FromUnits(units *big.Int, decimals uint8) Amount {
	return Amount{value: new(big.Int).Set(units), decimals: decimals}
}

// Parse parses a decimal string ("1.5", "100", "0.00030000") into an
// Amount at the given decimals. Extra fractional digits are rejected
// rather than silently truncated, since swap amounts must be exact.
func Parse(s string, decimals uint8) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("money: empty amount string")
	}

	wholeStr, fracStr := s, ""
	for i, c := range s {
		if c == '.' {
			wholeStr, fracStr = s[:i], s[i+1:]
			break
		}
	}
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("money: invalid character in amount %q", s)
		}
	}
	for _, c := range fracStr {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("money: invalid character in amount %q", s)
		}
	}
	if len(fracStr) > int(decimals) {
		return Amount{}, fmt.Errorf("money: %q has more precision than %d decimals", s, decimals)
	}
	for len(fracStr) < int(decimals) {
		fracStr += "0"
	}

	combined := wholeStr + fracStr
	v := new(big.Int)
	if _, ok := v.SetString(combined, 10); !ok {
		return Amount{}, fmt.Errorf("money: invalid amount %q", s)
	}

	return Amount{value: v, decimals: decimals}, nil
}

// MustParse is Parse but panics on error; used for constants in tests.
func MustParse(s string, decimals uint8) Amount {
	a, err := Parse(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// String formats the amount as a decimal string, trimming trailing
// fractional zeros (mirrors pkg/helpers/amount.go's FormatAmount).
func (a Amount) String() string {
	if a.value == nil {
		return "0"
	}
	if a.decimals == 0 {
		return a.value.String()
	}

	neg := a.value.Sign() < 0
	abs := new(big.Int).Abs(a.value)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.decimals)), nil)

	whole := new(big.Int).Div(abs, divisor)
	frac := new(big.Int).Mod(abs, divisor)

	fracStr := fmt.Sprintf("%0*d", int(a.decimals), frac)
	for len(fracStr) > 0 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}

	sign := ""
	if neg {
		sign = "-"
	}
	if fracStr == "" {
		return sign + whole.String()
	}
	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// Decimals returns the amount's precision.
func (a Amount) Decimals() uint8 { return a.decimals }

// Units returns the raw smallest-unit integer value.
func (a Amount) Units() *big.Int {
	if a.value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.value)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.value == nil || a.value.Sign() == 0
}

// Sign returns -1, 0, or 1.
func (a Amount) Sign() int {
	if a.value == nil {
		return 0
	}
	return a.value.Sign()
}

func (a Amount) rescale(decimals uint8) *big.Int {
	if a.value == nil {
		return big.NewInt(0)
	}
	if decimals == a.decimals {
		return new(big.Int).Set(a.value)
	}
	if decimals > a.decimals {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-a.decimals)), nil)
		return new(big.Int).Mul(a.value, scale)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.decimals-decimals)), nil)
	return new(big.Int).Div(a.value, scale)
}

// Add returns a+b, result carries a's decimals (b is rescaled to match).
func (a Amount) Add(b Amount) Amount {
	return Amount{value: new(big.Int).Add(a.value, b.rescale(a.decimals)), decimals: a.decimals}
}

// Sub returns a-b, result carries a's decimals (b is rescaled to match).
func (a Amount) Sub(b Amount) Amount {
	return Amount{value: new(big.Int).Sub(a.value, b.rescale(a.decimals)), decimals: a.decimals}
}

// Cmp compares a and b numerically regardless of decimals.
func (a Amount) Cmp(b Amount) int {
	d := a.decimals
	if b.decimals > d {
		d = b.decimals
	}
	return a.rescale(d).Cmp(b.rescale(d))
}

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Cmp(b) >= 0 }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// MulBPS returns a * bps / 10000, rounding up (ceil), at a's decimals.
// Used for PERCENT_BPS commission: ceil(sendAmount * bps / 10000).
func (a Amount) MulBPS(bps int64) Amount {
	num := new(big.Int).Mul(a.value, big.NewInt(bps))
	den := big.NewInt(10000)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return Amount{value: q, decimals: a.decimals}
}

// jsonAmount is the wire representation: units are kept as a decimal
// string (not a JSON number) since amounts can exceed float64's safe
// integer range, and decimals travels alongside so String() round-trips
// exactly rather than depending on an external schema.
type jsonAmount struct {
	Units    string `json:"units"`
	Decimals uint8  `json:"decimals"`
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	units := "0"
	if a.value != nil {
		units = a.value.String()
	}
	return json.Marshal(jsonAmount{Units: units, Decimals: a.decimals})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var j jsonAmount
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	v := new(big.Int)
	if _, ok := v.SetString(j.Units, 10); !ok {
		return fmt.Errorf("money: invalid units %q in JSON amount", j.Units)
	}
	a.value = v
	a.decimals = j.Decimals
	return nil
}

// Max returns the larger of a, b (by numeric value, a's decimals used).
func Max(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return Amount{value: b.rescale(a.decimals), decimals: a.decimals}
}
