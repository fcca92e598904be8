package payments

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/fees"
	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/store"
)

type TopupRequest struct {
	CompanyID       string
	Amount          decimal.Decimal
	PaymentMethodID string
	IdempotencyKey  string
}

type TopupResult struct {
	TopupID   string
	Breakdown fees.TopupBreakdown
	Status    ledger.Status
}

// Topup funds a company's ledger balance from one of its payment methods.
// Topups are never charged a platform fee.
func (s *Service) Topup(ctx context.Context, actor Actor, req TopupRequest) (TopupResult, error) {
	breakdown, err := fees.Topup(req.Amount)
	if err != nil {
		return TopupResult{}, validationError("amount must be positive")
	}
	if req.PaymentMethodID == "" {
		return TopupResult{}, validationError("payment method is required")
	}
	minor, err := money.ToMinor(req.Amount)
	if err != nil {
		return TopupResult{}, validationError(err.Error())
	}

	profile, err := s.linkedProfile(ctx, actor, req.CompanyID)
	if err != nil {
		return TopupResult{}, err
	}
	if profile.Role != store.RoleCompany {
		return TopupResult{}, forbidden("only companies can top up")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "topup-" + s.newID()
	}
	log := s.logger.WithFields(logrus.Fields{
		"company_id":      req.CompanyID,
		"idempotency_key": key,
	})

	tp, err := s.ledger.CreateTopup(ctx, ledger.TopupParams{
		AccountID:       profile.LedgerAccountID,
		PaymentMethodID: req.PaymentMethodID,
		AmountMinor:     minor,
		Currency:        money.CurrencyUSD,
		IdempotencyKey:  key,
		Metadata: map[string]string{
			"company_id": req.CompanyID,
		},
	})
	if err != nil {
		log.WithError(err).Error("ledger topup failed")
		return TopupResult{}, upstream(ReasonLedgerUnavailable, err)
	}
	log = log.WithField("topup_id", tp.ID)

	_, _, err = s.store.UpsertTopup(ctx, store.Topup{
		ID:              s.newID(),
		CompanyID:       req.CompanyID,
		LedgerAccountID: profile.LedgerAccountID,
		Amount:          money.FromMinor(tp.AmountMinor),
		Currency:        currencyOr(tp.Currency),
		TopupID:         tp.ID,
		Status:          string(tp.Status),
	})
	if err != nil {
		log.WithError(err).Error("topup created but not recorded locally")
	}

	log.Info("topup requested")
	return TopupResult{TopupID: tp.ID, Breakdown: breakdown, Status: tp.Status}, nil
}
