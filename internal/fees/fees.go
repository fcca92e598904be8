// Package fees computes how a gross amount is split between the platform and
// the receiving party. Creator payouts and company topups use separate
// calculators so a topup can never be charged the payout rate.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"

	"creatorlink.payments/internal/money"
)

var ErrNonPositiveAmount = errors.New("amount must be positive")

var (
	// PayoutFeeRate is the platform's cut of every creator payout.
	PayoutFeeRate = decimal.RequireFromString("0.07")

	// TopupFeeRate is zero: companies fund their balance at face value.
	TopupFeeRate = decimal.Zero
)

var hundred = decimal.NewFromInt(100)

type Breakdown struct {
	Gross           decimal.Decimal
	Fee             decimal.Decimal
	CreatorReceives decimal.Decimal
	FeePercent      decimal.Decimal
}

// Payout splits a creator payout. fee is rounded to the cent and the creator
// receives the remainder, so Fee+CreatorReceives always equals Gross.
func Payout(gross decimal.Decimal) (Breakdown, error) {
	if !gross.IsPositive() {
		return Breakdown{}, ErrNonPositiveAmount
	}
	gross = gross.Round(money.Places)
	fee := gross.Mul(PayoutFeeRate).Round(money.Places)
	return Breakdown{
		Gross:           gross,
		Fee:             fee,
		CreatorReceives: gross.Sub(fee),
		FeePercent:      PayoutFeeRate.Mul(hundred),
	}, nil
}

type TopupBreakdown struct {
	Amount   decimal.Decimal
	Fee      decimal.Decimal
	Credited decimal.Decimal
}

// Topup reports what a company's balance is credited for a funding amount.
func Topup(amount decimal.Decimal) (TopupBreakdown, error) {
	if !amount.IsPositive() {
		return TopupBreakdown{}, ErrNonPositiveAmount
	}
	amount = amount.Round(money.Places)
	fee := amount.Mul(TopupFeeRate).Round(money.Places)
	return TopupBreakdown{
		Amount:   amount,
		Fee:      fee,
		Credited: amount.Sub(fee),
	}, nil
}
