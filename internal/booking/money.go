package booking

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Money is a fixed-point currency amount in hundredths (cents).
type Money int64

// MaxMoney is the largest amount the payments table stores (NUMERIC(10,2)).
const MaxMoney Money = 99_999_999_99

// Cents builds a Money value from an amount of hundredths.
func Cents(c int64) Money { return Money(c) }

// ParseMoney parses a decimal amount with at most two fractional digits,
// such as "200", "200.5" or "-12.30".
func ParseMoney(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrValidation)
	}

	neg := false
	if raw[0] == '-' || raw[0] == '+' {
		neg = raw[0] == '-'
		raw = raw[1:]
	}

	units, frac, hasFrac := strings.Cut(raw, ".")
	if units == "" || !digitsOnly(units) || (hasFrac && (frac == "" || len(frac) > 2 || !digitsOnly(frac))) {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrValidation, s)
	}
	if len(units) > 15 {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrValidation, s)
	}

	u, err := strconv.ParseInt(units, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrValidation, s)
	}

	var c int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		c, _ = strconv.ParseInt(frac, 10, 64)
	}

	m := Money(u*100 + c)
	if neg {
		m = -m
	}
	return m, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a decimal string to avoid float rounding.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
