package store

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JobStatusPending   = "pending"
	JobStatusApproved  = "approved"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
)

const (
	PaymentUnpaid     = "unpaid"
	PaymentProcessing = "processing"
	PaymentPaid       = "paid"
	PaymentFailed     = "failed"
)

// Statuses shared by payouts, withdrawals and topups. completed and failed
// are absorbing.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	RoleCreator = "creator"
	RoleCompany = "company"
	RoleAdmin   = "admin"
)

type Profile struct {
	ID              string
	Email           string
	DisplayName     string
	Role            string
	LedgerAccountID string
	CreatedAt       time.Time
}

type Job struct {
	ID                 string
	CompanyID          string
	CreatorID          string
	Title              string
	Amount             decimal.Decimal
	Currency           string
	Status             string
	PaymentStatus      string
	PaymentAttempts    int
	TransferID         string
	PaymentInitiatedAt *time.Time
	PaymentCompletedAt *time.Time
	CreatedAt          time.Time
}

type Payout struct {
	ID          string
	JobID       string
	CreatorID   string
	CompanyID   string
	GrossAmount decimal.Decimal
	PlatformFee decimal.Decimal
	Amount      decimal.Decimal
	Currency    string
	TransferID  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Withdrawal struct {
	ID              string
	UserID          string
	LedgerAccountID string
	Amount          decimal.Decimal
	Currency        string
	WithdrawalID    string
	PayoutMethodID  string
	Status          string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Topup struct {
	ID              string
	CompanyID       string
	LedgerAccountID string
	Amount          decimal.Decimal
	Currency        string
	TopupID         string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobTransferInput records a ledger transfer that was just created for a job.
type JobTransferInput struct {
	JobID  string
	Payout Payout
}

// WebhookEvent is the audit row for one ledger delivery.
type WebhookEvent struct {
	EventID         string
	EventType       string
	ProcessedAt     *time.Time
	ProcessingError string
}
