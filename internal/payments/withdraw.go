package payments

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/store"
)

// GetPortalLink returns the ledger-hosted page where a creator manages payout
// methods and withdraws on their own.
func (s *Service) GetPortalLink(ctx context.Context, actor Actor, userID string) (ledger.AccountLink, error) {
	profile, err := s.linkedProfile(ctx, actor, userID)
	if err != nil {
		return ledger.AccountLink{}, err
	}

	link, err := s.ledger.CreateAccountLink(ctx, ledger.AccountLinkParams{
		AccountID:  profile.LedgerAccountID,
		Kind:       ledger.LinkPayoutsPortal,
		ReturnURL:  s.callbackURL("/earnings", "complete"),
		RefreshURL: s.callbackURL("/earnings", "refresh"),
	})
	if err != nil {
		return ledger.AccountLink{}, upstream(ReasonLedgerUnavailable, err)
	}
	return link, nil
}

type WithdrawalRequest struct {
	UserID         string
	Amount         decimal.Decimal
	PayoutMethodID string
	// IdempotencyKey is optional; a fresh key is generated when empty.
	IdempotencyKey string
}

type WithdrawalResult struct {
	WithdrawalID string
	Amount       decimal.Decimal
	Currency     string
	Status       ledger.Status
}

// Withdraw moves funds from the user's ledger account to one of their payout
// methods. The returned status is what the ledger reported synchronously.
func (s *Service) Withdraw(ctx context.Context, actor Actor, req WithdrawalRequest) (res WithdrawalResult, err error) {
	defer func() {
		withdrawals.WithLabelValues(outcome(err)).Inc()
	}()

	if !req.Amount.IsPositive() {
		return WithdrawalResult{}, validationError("amount must be positive")
	}
	if req.PayoutMethodID == "" {
		return WithdrawalResult{}, validationError("payout method is required")
	}
	minor, err := money.ToMinor(req.Amount)
	if err != nil {
		return WithdrawalResult{}, validationError(err.Error())
	}

	profile, err := s.linkedProfile(ctx, actor, req.UserID)
	if err != nil {
		return WithdrawalResult{}, err
	}

	if !s.cfg.LedgerEnforcesMinimum && req.Amount.LessThan(s.cfg.MinWithdrawal) {
		return WithdrawalResult{}, &Error{
			Kind:   ErrPrecheckFailed,
			Reason: ReasonBelowMinimum + " of " + money.Format(s.cfg.MinWithdrawal),
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "withdrawal-" + s.newID()
	}
	log := s.logger.WithFields(logrus.Fields{
		"user_id":          req.UserID,
		"payout_method_id": req.PayoutMethodID,
		"idempotency_key":  key,
	})

	wd, err := s.ledger.CreateWithdrawal(ctx, ledger.WithdrawalParams{
		AccountID:      profile.LedgerAccountID,
		PayoutMethodID: req.PayoutMethodID,
		AmountMinor:    minor,
		Currency:       money.CurrencyUSD,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"user_id": req.UserID,
		},
	})
	if err != nil {
		log.WithError(err).Error("ledger withdrawal failed")
		return WithdrawalResult{}, upstream(ReasonLedgerUnavailable, err)
	}
	log = log.WithField("withdrawal_id", wd.ID)

	_, _, err = s.store.UpsertWithdrawal(ctx, store.Withdrawal{
		ID:              s.newID(),
		UserID:          req.UserID,
		LedgerAccountID: profile.LedgerAccountID,
		Amount:          money.FromMinor(wd.AmountMinor),
		Currency:        currencyOr(wd.Currency),
		WithdrawalID:    wd.ID,
		PayoutMethodID:  firstNonEmpty(wd.PayoutMethodID, req.PayoutMethodID),
		Status:          string(wd.Status),
		FailureReason:   wd.FailureReason,
	})
	if err != nil {
		log.WithError(err).Error("withdrawal created but not recorded locally")
	}

	log.WithField("status", wd.Status).Info("withdrawal requested")
	return WithdrawalResult{
		WithdrawalID: wd.ID,
		Amount:       money.FromMinor(wd.AmountMinor),
		Currency:     currencyOr(wd.Currency),
		Status:       wd.Status,
	}, nil
}

// ListPayoutMethods is read-only, so a ledger failure yields an empty list.
func (s *Service) ListPayoutMethods(ctx context.Context, actor Actor, userID string) ([]ledger.PayoutMethod, error) {
	profile, err := s.linkedProfile(ctx, actor, userID)
	if err != nil {
		return nil, err
	}

	methods, err := s.ledger.ListPayoutMethods(ctx, profile.LedgerAccountID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("list payout methods failed; returning empty list")
		return []ledger.PayoutMethod{}, nil
	}
	if methods == nil {
		methods = []ledger.PayoutMethod{}
	}
	return methods, nil
}

// CreateAccessToken issues a short-lived token for embedding ledger-hosted
// components.
func (s *Service) CreateAccessToken(ctx context.Context, actor Actor, userID string) (ledger.AccessToken, error) {
	profile, err := s.linkedProfile(ctx, actor, userID)
	if err != nil {
		return ledger.AccessToken{}, err
	}

	tok, err := s.ledger.CreateAccessToken(ctx, profile.LedgerAccountID)
	if err != nil {
		return ledger.AccessToken{}, upstream(ReasonLedgerUnavailable, err)
	}
	return tok, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
