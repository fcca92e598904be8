// Package money converts between human-facing decimal amounts and the integer
// minor units the ledger works in.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyUSD is the only currency the platform settles in.
	CurrencyUSD = "USD"

	// Places is the number of fractional digits in a USD amount.
	Places = 2
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrTooPrecise     = errors.New("amount has more than two decimal places")
	ErrAmountOverflow = errors.New("amount out of range")
)

var hundred = decimal.NewFromInt(100)

// Parse reads a decimal amount such as "93.00" or "1,250.5".
func Parse(s string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	clean = strings.TrimPrefix(clean, "$")
	if clean == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToMinor converts a decimal amount to cents. Amounts with sub-cent precision
// are rejected rather than silently rounded.
func ToMinor(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Round(Places)) {
		return 0, ErrTooPrecise
	}
	cents := d.Mul(hundred)
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || cents.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrAmountOverflow
	}
	return cents.IntPart(), nil
}

// FromMinor converts cents back to a decimal amount.
func FromMinor(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
