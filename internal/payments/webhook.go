package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/store"
)

var (
	errMissingJobID = errors.New("event metadata has no job_id")
	// errUnknownObject is returned for an amount-less delivery about an
	// object with no local row yet. Redelivery or the sweep fills it in.
	errUnknownObject = errors.New("no local record and the event carries no amount")
)

// HandleEvent applies one ledger webhook delivery. It never returns an error:
// failures are logged and recorded on the audit row, and the ledger is always
// acknowledged.
func (s *Service) HandleEvent(ctx context.Context, ev ledger.Event) {
	log := s.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
	})

	audited := true
	rec, err := s.store.RecordWebhookEvent(ctx, ev.ID, string(ev.Type), ev.Raw)
	if err != nil {
		audited = false
		log.WithError(err).Warn("could not record webhook event; applying anyway")
	} else if rec.ProcessedAt != nil && rec.ProcessingError == "" {
		webhookEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
		log.Info("webhook_event_duplicate")
		return
	}

	handled, err := s.dispatch(ctx, ev)
	result := "applied"
	switch {
	case err != nil:
		result = "error"
		log.WithError(err).Error("webhook_event_failed")
	case !handled:
		result = "ignored"
		log.Info("webhook_event_ignored")
	default:
		log.Info("webhook_event_applied")
	}
	webhookEvents.WithLabelValues(string(ev.Type), result).Inc()

	if !audited {
		return
	}
	var procErr string
	if err != nil {
		procErr = err.Error()
	}
	if err := s.store.MarkWebhookEventProcessed(ctx, ev.ID, procErr); err != nil {
		log.WithError(err).Warn("could not mark webhook event processed")
	}
}

// dispatch reports false for event types it does not know.
func (s *Service) dispatch(ctx context.Context, ev ledger.Event) (bool, error) {
	switch ev.Type {
	case ledger.EventPaymentSucceeded, ledger.EventPaymentFailed:
		return true, s.applyPayment(ctx, ev)

	case ledger.EventTransferCompleted, ledger.EventTransferFailed:
		tr, err := ev.Transfer()
		if err != nil {
			return true, err
		}
		_, err = s.applyTransfer(ctx, tr)
		return true, err

	case ledger.EventWithdrawalCompleted, ledger.EventWithdrawalFailed:
		wd, err := ev.Withdrawal()
		if err != nil {
			return true, err
		}
		_, err = s.applyWithdrawal(ctx, wd)
		return true, err

	case ledger.EventTopupCompleted, ledger.EventTopupFailed:
		tp, err := ev.Topup()
		if err != nil {
			return true, err
		}
		_, err = s.applyTopup(ctx, tp)
		return true, err
	}
	return false, nil
}

func (s *Service) applyPayment(ctx context.Context, ev ledger.Event) error {
	jobID := ev.Metadata["job_id"]
	if jobID == "" {
		return errMissingJobID
	}
	transferID := ev.Metadata["transfer_id"]

	var err error
	if ev.Status() == ledger.StatusCompleted {
		_, err = s.store.MarkJobPaid(ctx, jobID, transferID)
	} else {
		_, err = s.store.MarkJobPaymentFailed(ctx, jobID, transferID)
	}
	return err
}

// applyTransfer upserts the payout for a ledger transfer and moves the job's
// payment status to match the stored payout. It reports whether anything
// changed.
func (s *Service) applyTransfer(ctx context.Context, tr ledger.Transfer) (bool, error) {
	if tr.AmountMissing {
		return s.advanceTransfer(ctx, tr)
	}

	jobID := tr.Metadata["job_id"]
	creatorID := tr.Metadata["creator_id"]
	if creatorID == "" && tr.DestinationAccountID != "" {
		creatorID = s.userForAccount(ctx, tr.DestinationAccountID)
	}

	amount := money.FromMinor(tr.AmountMinor)
	payout := store.Payout{
		ID:          s.newID(),
		JobID:       jobID,
		CreatorID:   creatorID,
		CompanyID:   tr.Metadata["company_id"],
		GrossAmount: metadataAmount(tr.Metadata, "gross_amount", amount),
		PlatformFee: metadataAmount(tr.Metadata, "platform_fee", decimal.Zero),
		Amount:      amount,
		Currency:    currencyOr(tr.Currency),
		TransferID:  tr.ID,
		Status:      string(tr.Status),
	}

	// A transfer still in flight can only come from the sweep; it repairs a
	// job whose local write was lost after the ledger accepted the payment.
	if tr.Status == ledger.StatusProcessing {
		if jobID == "" {
			_, applied, err := s.store.UpsertPayout(ctx, payout)
			return applied, err
		}
		_, changed, err := s.store.RecordJobTransfer(ctx, store.JobTransferInput{JobID: jobID, Payout: payout})
		return changed, err
	}

	stored, applied, err := s.store.UpsertPayout(ctx, payout)
	if err != nil {
		return false, fmt.Errorf("upsert payout %s: %w", tr.ID, err)
	}
	return s.settleJob(ctx, firstNonEmpty(stored.JobID, jobID), stored, applied)
}

// advanceTransfer applies a status-only transfer delivery. It never creates a
// payout, so no row is ever recorded without its amount.
func (s *Service) advanceTransfer(ctx context.Context, tr ledger.Transfer) (bool, error) {
	stored, applied, err := s.store.AdvancePayoutStatus(ctx, tr.ID, string(tr.Status))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("transfer %s: %w", tr.ID, errUnknownObject)
		}
		return false, fmt.Errorf("advance payout %s: %w", tr.ID, err)
	}
	return s.settleJob(ctx, firstNonEmpty(stored.JobID, tr.Metadata["job_id"]), stored, applied)
}

// settleJob moves the payout's job to match a stored terminal payout.
func (s *Service) settleJob(ctx context.Context, jobID string, stored store.Payout, applied bool) (bool, error) {
	if jobID == "" {
		return applied, nil
	}

	var (
		changed bool
		err     error
	)
	switch stored.Status {
	case store.StatusCompleted:
		changed, err = s.store.MarkJobPaid(ctx, jobID, stored.TransferID)
	case store.StatusFailed:
		changed, err = s.store.MarkJobPaymentFailed(ctx, jobID, stored.TransferID)
	}
	if err != nil {
		return applied, fmt.Errorf("update job %s: %w", jobID, err)
	}
	return applied || changed, nil
}

func (s *Service) applyWithdrawal(ctx context.Context, wd ledger.Withdrawal) (bool, error) {
	if wd.AmountMissing {
		_, applied, err := s.store.AdvanceWithdrawalStatus(ctx, wd.ID, string(wd.Status), wd.FailureReason)
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("withdrawal %s: %w", wd.ID, errUnknownObject)
		}
		return applied, err
	}

	userID := wd.Metadata["user_id"]
	if userID == "" && wd.AccountID != "" {
		userID = s.userForAccount(ctx, wd.AccountID)
	}

	_, applied, err := s.store.UpsertWithdrawal(ctx, store.Withdrawal{
		ID:              s.newID(),
		UserID:          userID,
		LedgerAccountID: wd.AccountID,
		Amount:          money.FromMinor(wd.AmountMinor),
		Currency:        currencyOr(wd.Currency),
		WithdrawalID:    wd.ID,
		PayoutMethodID:  wd.PayoutMethodID,
		Status:          string(wd.Status),
		FailureReason:   wd.FailureReason,
	})
	if err != nil {
		return false, fmt.Errorf("upsert withdrawal %s: %w", wd.ID, err)
	}
	return applied, nil
}

func (s *Service) applyTopup(ctx context.Context, tp ledger.Topup) (bool, error) {
	if tp.AmountMissing {
		_, applied, err := s.store.AdvanceTopupStatus(ctx, tp.ID, string(tp.Status))
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("topup %s: %w", tp.ID, errUnknownObject)
		}
		return applied, err
	}

	companyID := tp.Metadata["company_id"]
	if companyID == "" && tp.AccountID != "" {
		companyID = s.userForAccount(ctx, tp.AccountID)
	}

	_, applied, err := s.store.UpsertTopup(ctx, store.Topup{
		ID:              s.newID(),
		CompanyID:       companyID,
		LedgerAccountID: tp.AccountID,
		Amount:          money.FromMinor(tp.AmountMinor),
		Currency:        currencyOr(tp.Currency),
		TopupID:         tp.ID,
		Status:          string(tp.Status),
	})
	if err != nil {
		return false, fmt.Errorf("upsert topup %s: %w", tp.ID, err)
	}
	return applied, nil
}

// userForAccount returns "" when no profile owns the account.
func (s *Service) userForAccount(ctx context.Context, ledgerAccountID string) string {
	p, err := s.store.GetProfileByLedgerAccount(ctx, ledgerAccountID)
	if err != nil {
		if !errors.Is(err, store.ErrProfileNotFound) {
			s.logger.WithError(err).WithField("ledger_account_id", ledgerAccountID).Warn("profile lookup by ledger account failed")
		}
		return ""
	}
	return p.ID
}

func metadataAmount(md map[string]string, key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := md[key]
	if !ok {
		return fallback
	}
	d, err := money.Parse(v)
	if err != nil {
		return fallback
	}
	return d
}
