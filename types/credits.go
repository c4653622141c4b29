// Package types provides common value types used across the credit engine.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Credits is a quantity of prepaid usage credits in milli-credit resolution.
// All arithmetic is integer-only — no floating point. The underlying int64
// counts thousandths of a credit, so ordinary + and - operators are exact.
//
// Examples:
//   - 5 * types.Credit        = 5.000 credits
//   - 3200 * types.MilliCredit = 3.200 credits
type Credits int64

// Common credit units.
const (
	MilliCredit Credits = 1
	Credit              = 1000 * MilliCredit
)

// Whole returns the Credits value for n whole credits.
func Whole(n int64) Credits { return Credits(n) * Credit }

// Milli returns the Credits value for n milli-credits.
func Milli(n int64) Credits { return Credits(n) }

// ParseCredits parses a decimal credit string such as "3.2" or "10"
// into a Credits value. At most three fractional digits are accepted.
func ParseCredits(s string) (Credits, error) {
	whole, frac, _ := strings.Cut(s, ".")

	neg := strings.HasPrefix(whole, "-")
	if neg {
		whole = whole[1:]
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("credits: parse %q: %w", s, err)
	}

	var m int64
	if frac != "" {
		if len(frac) > 3 {
			return 0, fmt.Errorf("credits: parse %q: more than milli-credit resolution", s)
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("credits: parse %q: %w", s, err)
		}
		for i := len(frac); i < 3; i++ {
			f *= 10
		}
		m = f
	}

	c := Credits(w)*Credit + Credits(m)
	if neg {
		c = -c
	}
	return c, nil
}

// Milli returns the amount in milli-credits.
func (c Credits) Milli() int64 { return int64(c) }

// Float64 returns the amount in whole credits as a float.
// For display and metrics only — never use the result for accounting.
func (c Credits) Float64() float64 { return float64(c) / float64(Credit) }

// IsZero reports whether the amount is zero.
func (c Credits) IsZero() bool { return c == 0 }

// IsPositive reports whether the amount is greater than zero.
func (c Credits) IsPositive() bool { return c > 0 }

// IsNegative reports whether the amount is less than zero.
func (c Credits) IsNegative() bool { return c < 0 }

// Abs returns the absolute value.
func (c Credits) Abs() Credits {
	if c < 0 {
		return -c
	}
	return c
}

// Min returns the smaller of two credit amounts.
func (c Credits) Min(other Credits) Credits {
	if c < other {
		return c
	}
	return other
}

// Max returns the larger of two credit amounts.
func (c Credits) Max(other Credits) Credits {
	if c > other {
		return c
	}
	return other
}

// ScaleBps scales the amount by a basis-point rate (10000 bps = 100%),
// truncating toward zero. Used for bonus-credit computation where rates
// come from the discount tier table.
func (c Credits) ScaleBps(bps int64) Credits {
	return Credits(int64(c) * bps / 10000)
}

// String formats the amount as a decimal credit string, e.g. "3.200".
func (c Credits) String() string {
	neg := c < 0
	a := c.Abs()
	s := fmt.Sprintf("%d.%03d", a/Credit, a%Credit)
	if neg {
		return "-" + s
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (c Credits) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Credits) UnmarshalText(data []byte) error {
	parsed, err := ParseCredits(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
