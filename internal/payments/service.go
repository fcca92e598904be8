// Package payments settles money between companies and creators through the
// external ledger and reconciles the ledger's asynchronous events back into
// local job, payout, withdrawal and topup records.
package payments

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/lock"
	"creatorlink.payments/internal/store"
)

// Store is the slice of the data store the payment flows read and write.
type Store interface {
	GetProfile(ctx context.Context, id string) (store.Profile, error)
	GetProfileByLedgerAccount(ctx context.Context, ledgerAccountID string) (store.Profile, error)
	LinkLedgerAccount(ctx context.Context, userID, ledgerAccountID string) error

	GetJob(ctx context.Context, id string) (store.Job, error)
	RecordJobTransfer(ctx context.Context, in store.JobTransferInput) (store.Payout, bool, error)
	MarkJobPaid(ctx context.Context, jobID, transferID string) (bool, error)
	MarkJobPaymentFailed(ctx context.Context, jobID, transferID string) (bool, error)

	UpsertPayout(ctx context.Context, p store.Payout) (store.Payout, bool, error)
	UpsertWithdrawal(ctx context.Context, w store.Withdrawal) (store.Withdrawal, bool, error)
	UpsertTopup(ctx context.Context, t store.Topup) (store.Topup, bool, error)

	AdvancePayoutStatus(ctx context.Context, transferID, status string) (store.Payout, bool, error)
	AdvanceWithdrawalStatus(ctx context.Context, withdrawalID, status, failureReason string) (store.Withdrawal, bool, error)
	AdvanceTopupStatus(ctx context.Context, topupID, status string) (store.Topup, bool, error)

	RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (store.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID, processingError string) error
}

type Config struct {
	// PlatformAccountID is the platform's own top-level ledger account. Sub
	// accounts are created under it and job payments are sent from it.
	PlatformAccountID string

	// AppURL is the base for hosted-page return and refresh callbacks.
	AppURL string

	MinWithdrawal         decimal.Decimal
	LedgerEnforcesMinimum bool

	PaymentLockTTL time.Duration
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

type Service struct {
	store  Store
	ledger ledger.Client
	locker lock.Locker
	logger logrus.FieldLogger
	cfg    Config

	now   func() time.Time
	newID func() string
}

// New wires a Service. A nil locker falls back to lock.Nop and a nil logger
// discards output.
func New(st Store, lc ledger.Client, locker lock.Locker, logger logrus.FieldLogger, cfg Config) *Service {
	if locker == nil {
		locker = lock.Nop
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	if cfg.PaymentLockTTL <= 0 {
		cfg.PaymentLockTTL = 30 * time.Second
	}
	return &Service{
		store:  st,
		ledger: lc,
		locker: locker,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// authorize allows a caller to act on their own resources, and admins on
// anyone's.
func authorize(actor Actor, userID string) error {
	if actor.UserID == "" {
		return &Error{Kind: ErrUnauthenticated, Reason: "authentication required"}
	}
	if actor.UserID != userID && actor.Role != store.RoleAdmin {
		return forbidden("not allowed to act for this user")
	}
	return nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) (store.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return store.Profile{}, notFound("profile not found")
		}
		return store.Profile{}, upstream(ReasonDataStoreFailure, err)
	}
	return p, nil
}

// linkedProfile loads the caller's profile and requires a ledger account link.
func (s *Service) linkedProfile(ctx context.Context, actor Actor, userID string) (store.Profile, error) {
	if userID == "" {
		return store.Profile{}, validationError("user id is required")
	}
	if err := authorize(actor, userID); err != nil {
		return store.Profile{}, err
	}
	p, err := s.loadProfile(ctx, userID)
	if err != nil {
		return store.Profile{}, err
	}
	if p.LedgerAccountID == "" {
		return store.Profile{}, needsSetup(ReasonConfigureFirst)
	}
	return p, nil
}
