package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in US cents.
type Money int64

// Dollars converts a whole or fractional dollar amount, rounding to the cent.
func Dollars(d float64) Money { return Money(math.Round(d * 100)) }

func (m Money) Float() float64 { return float64(m) / 100 }

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// Decimal renders the amount without a currency sign, e.g. "104.50".
func (m Money) Decimal() string {
	return strconv.FormatFloat(m.Float(), 'f', 2, 64)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*m = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid money %q: %w", s, err)
	}
	*m = Dollars(f)
	return nil
}

// UnmarshalYAML reads catalog prices written in dollars.
func (m *Money) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var f float64
	if err := unmarshal(&f); err != nil {
		return err
	}
	*m = Dollars(f)
	return nil
}

// Value stores the amount as a decimal string so DECIMAL/NUMERIC columns
// keep exact cents.
func (m Money) Value() (driver.Value, error) {
	return m.Decimal(), nil
}

func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = 0
	case int64:
		*m = Money(v * 100)
	case float64:
		*m = Dollars(v)
	case []byte:
		return m.scanText(string(v))
	case string:
		return m.scanText(v)
	default:
		return fmt.Errorf("unsupported money scan type %T", src)
	}
	return nil
}

func (m *Money) scanText(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid money %q: %w", s, err)
	}
	*m = Dollars(f)
	return nil
}
