package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/fees"
	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/lock"
	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/store"
)

type PaymentResult struct {
	JobID      string
	TransferID string
	Status     ledger.Status
	Breakdown  fees.Breakdown
}

// PreviewBreakdown shows the split for a gross amount without moving money.
func PreviewBreakdown(gross decimal.Decimal) (fees.Breakdown, error) {
	b, err := fees.Payout(gross)
	if err != nil {
		return fees.Breakdown{}, validationError("amount must be positive")
	}
	if _, err := money.ToMinor(b.CreatorReceives); err != nil {
		return fees.Breakdown{}, validationError(err.Error())
	}
	return b, nil
}

// paymentKey is stable across client retries and advances only after a
// failed payment has been reconciled.
func paymentKey(job store.Job) string {
	return fmt.Sprintf("job-%s-payment-%d", job.ID, job.PaymentAttempts)
}

// PayJob sends the creator's share of an approved job from the platform
// account. No local state is written unless the ledger accepted the transfer.
func (s *Service) PayJob(ctx context.Context, actor Actor, jobID string) (res PaymentResult, err error) {
	defer func() {
		jobPayments.WithLabelValues(outcome(err)).Inc()
	}()

	if jobID == "" {
		return PaymentResult{}, validationError("job id is required")
	}
	if actor.UserID == "" {
		return PaymentResult{}, &Error{Kind: ErrUnauthenticated, Reason: "authentication required"}
	}

	release, err := s.locker.Acquire(ctx, "lock:job-payment:"+jobID, s.cfg.PaymentLockTTL)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return PaymentResult{}, precheck(ReasonPaymentInProgress)
	case err != nil:
		s.logger.WithError(err).WithField("job_id", jobID).Warn("payment lock unavailable; relying on idempotency key")
	default:
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				s.logger.WithError(rerr).WithField("job_id", jobID).Warn("release payment lock")
			}
		}()
	}

	job, creator, err := s.payablePrechecks(ctx, actor, jobID)
	if err != nil {
		return PaymentResult{}, err
	}

	breakdown, err := fees.Payout(job.Amount)
	if err != nil {
		return PaymentResult{}, validationError("job amount must be positive")
	}
	minor, err := money.ToMinor(breakdown.CreatorReceives)
	if err != nil {
		return PaymentResult{}, validationError(err.Error())
	}

	key := paymentKey(job)
	log := s.logger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"idempotency_key": key,
	})

	tr, err := s.ledger.CreateTransfer(ctx, ledger.TransferParams{
		OriginAccountID:      s.cfg.PlatformAccountID,
		DestinationAccountID: creator.LedgerAccountID,
		AmountMinor:          minor,
		Currency:             currencyOr(job.Currency),
		IdempotencyKey:       key,
		Metadata: map[string]string{
			"job_id":       job.ID,
			"company_id":   job.CompanyID,
			"creator_id":   job.CreatorID,
			"gross_amount": money.Format(breakdown.Gross),
			"platform_fee": money.Format(breakdown.Fee),
		},
	})
	if err != nil {
		log.WithError(err).Error("ledger transfer failed")
		return PaymentResult{}, upstream(ReasonLedgerUnavailable, err)
	}
	log = log.WithField("transfer_id", tr.ID)
	if tr.AmountMinor != minor {
		log.WithFields(logrus.Fields{"requested": minor, "reported": tr.AmountMinor}).Warn("ledger reported a different transfer amount")
	}

	payout := store.Payout{
		ID:          s.newID(),
		JobID:       job.ID,
		CreatorID:   job.CreatorID,
		CompanyID:   job.CompanyID,
		GrossAmount: breakdown.Gross,
		PlatformFee: breakdown.Fee,
		Amount:      breakdown.CreatorReceives,
		Currency:    currencyOr(tr.Currency),
		TransferID:  tr.ID,
		Status:      store.StatusProcessing,
	}
	status := tr.Status
	stored, _, err := s.store.RecordJobTransfer(ctx, store.JobTransferInput{JobID: job.ID, Payout: payout})
	if err != nil {
		// The transfer exists; the reconciliation sweep repairs local state.
		log.WithError(err).Error("transfer created but job state not saved")
	} else if settled := ledger.Status(stored.Status); settled.Terminal() {
		// A delivery for this transfer beat the local write.
		status = settled
	}

	// Some transfers settle synchronously. Apply the outcome the same way a
	// webhook would.
	if tr.Status.Terminal() {
		if _, err := s.applyTransfer(ctx, tr); err != nil {
			log.WithError(err).Error("apply synchronous transfer status")
		}
	}
	if status == ledger.StatusFailed {
		return PaymentResult{}, upstream(ReasonTransferRejected, nil)
	}

	log.Info("job payment initiated")
	return PaymentResult{
		JobID:      job.ID,
		TransferID: tr.ID,
		Status:     status,
		Breakdown:  breakdown,
	}, nil
}

// payablePrechecks runs the payment gates in order and returns the job and
// the creator's profile.
func (s *Service) payablePrechecks(ctx context.Context, actor Actor, jobID string) (store.Job, store.Profile, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return store.Job{}, store.Profile{}, notFound("job not found")
		}
		return store.Job{}, store.Profile{}, upstream(ReasonDataStoreFailure, err)
	}

	if job.CompanyID != actor.UserID {
		return store.Job{}, store.Profile{}, forbidden("only the job's company can pay it")
	}

	if job.CreatorID == "" {
		return store.Job{}, store.Profile{}, needsSetup(ReasonCreatorNotPayable)
	}
	creator, err := s.store.GetProfile(ctx, job.CreatorID)
	switch {
	case errors.Is(err, store.ErrProfileNotFound):
		return store.Job{}, store.Profile{}, needsSetup(ReasonCreatorNotPayable)
	case err != nil:
		return store.Job{}, store.Profile{}, upstream(ReasonDataStoreFailure, err)
	case creator.LedgerAccountID == "":
		return store.Job{}, store.Profile{}, needsSetup(ReasonCreatorNotPayable)
	}

	if job.Status != store.JobStatusApproved && job.Status != store.JobStatusCompleted {
		return store.Job{}, store.Profile{}, precheck(ReasonJobNotApproved)
	}
	if job.PaymentStatus == store.PaymentPaid {
		return store.Job{}, store.Profile{}, precheck(ReasonAlreadyPaid)
	}
	return job, creator, nil
}

func currencyOr(c string) string {
	if c == "" {
		return money.CurrencyUSD
	}
	return c
}
