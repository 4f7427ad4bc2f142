// internal/difficulty/difficulty.go
package difficulty

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Result is a parsed difficulty. OK is false when the input was unparsable,
// in which case Value is zero and must not be compared.
type Result struct {
	Value float64
	OK    bool
}

// Unparsable is the result for any string Parse does not understand.
var Unparsable = Result{}

var multipliers = map[byte]decimal.Decimal{
	'k': decimal.New(1, 3),
	'M': decimal.New(1, 6),
	'G': decimal.New(1, 9),
	'T': decimal.New(1, 12),
}

// Parse reads the suffixed difficulty strings AxeOS reports, such as "80.8M"
// or "1.02G". The suffix is required and case-sensitive; whitespace before it
// is ignored.
func Parse(s string) Result {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Unparsable
	}

	mult, ok := multipliers[s[len(s)-1]]
	if !ok {
		return Unparsable
	}

	mantissa, err := decimal.NewFromString(strings.TrimSpace(s[:len(s)-1]))
	if err != nil {
		return Unparsable
	}

	value, _ := mantissa.Mul(mult).Float64()
	return Result{Value: value, OK: true}
}

// ParsePtr is Parse for optional sample fields.
func ParsePtr(s *string) Result {
	if s == nil {
		return Unparsable
	}
	return Parse(*s)
}

// Greater reports whether a and b both parsed to positive values and a > b.
func Greater(a, b Result) bool {
	return a.OK && b.OK && a.Value > 0 && b.Value > 0 && a.Value > b.Value
}

// Format renders a value with the largest suffix that keeps the mantissa at
// or above one.
func Format(v float64) string {
	d := decimal.NewFromFloat(v)
	for _, suffix := range []byte{'T', 'G', 'M', 'k'} {
		mult := multipliers[suffix]
		if d.GreaterThanOrEqual(mult) {
			return fmt.Sprintf("%s%c", d.Div(mult).StringFixed(2), suffix)
		}
	}
	return d.StringFixed(0)
}

func (r Result) String() string {
	if !r.OK {
		return "unparsable"
	}
	return Format(r.Value)
}
