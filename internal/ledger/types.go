// Package ledger is the typed boundary to the external payments ledger. Every
// response is validated and normalized here (amounts to integer minor units,
// statuses to a closed set) so nothing past this package inspects raw fields.
package ledger

import (
	"context"
	"strings"
	"time"
)

// Status is the closed set of states a ledger money movement can be in.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NormalizeStatus folds the ledger's status vocabulary into Status. Anything
// unrecognised is treated as still in flight.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "complete", "paid", "posted", "settled":
		return StatusCompleted
	case "failed", "failure", "canceled", "cancelled", "reversed", "returned", "rejected", "declined":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// LinkKind selects which hosted page CreateAccountLink returns.
type LinkKind string

const (
	LinkOnboarding    LinkKind = "onboarding"
	LinkPayoutMethods LinkKind = "payout_methods"
	LinkPayoutsPortal LinkKind = "payouts_portal"
)

type Account struct {
	ID          string
	ParentID    string
	DisplayName string
	Email       string
	Metadata    map[string]string
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	ParentAccountID string
	DisplayName     string
	Email           string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Transfer struct {
	ID                   string
	OriginAccountID      string
	DestinationAccountID string
	AmountMinor          int64
	// AmountMissing is set when the transfer was read from a delivery that
	// carried no amount. AmountMinor is then meaningless.
	AmountMissing bool
	Currency      string
	Status        Status
	Metadata      map[string]string
	CreatedAt     time.Time
}

type TransferParams struct {
	OriginAccountID      string
	DestinationAccountID string
	AmountMinor          int64
	Currency             string
	IdempotencyKey       string
	Metadata             map[string]string
}

type Withdrawal struct {
	ID             string
	AccountID      string
	PayoutMethodID string
	AmountMinor    int64
	AmountMissing  bool
	Currency       string
	Status         Status
	FailureReason  string
	Metadata       map[string]string
	CreatedAt      time.Time
}

type WithdrawalParams struct {
	AccountID      string
	PayoutMethodID string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type Topup struct {
	ID              string
	AccountID       string
	PaymentMethodID string
	AmountMinor     int64
	AmountMissing   bool
	Currency        string
	Status          Status
	Metadata        map[string]string
	CreatedAt       time.Time
}

type TopupParams struct {
	AccountID       string
	PaymentMethodID string
	AmountMinor     int64
	Currency        string
	IdempotencyKey  string
	Metadata        map[string]string
}

type PayoutMethod struct {
	ID        string
	Type      string
	Label     string
	IsDefault bool
}

type AccountLinkParams struct {
	AccountID  string
	Kind       LinkKind
	ReturnURL  string
	RefreshURL string
}

type AccountLink struct {
	URL       string
	ExpiresAt time.Time
}

type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// ListParams bounds list calls used by the reconciliation sweep.
type ListParams struct {
	AccountID    string
	CreatedAfter time.Time
	Limit        int
}

// Client is everything the platform needs from the ledger. One instance is
// built at startup and passed to each component.
type Client interface {
	CreateAccount(ctx context.Context, p CreateAccountParams) (Account, error)
	CreateTransfer(ctx context.Context, p TransferParams) (Transfer, error)
	ListTransfers(ctx context.Context, p ListParams) ([]Transfer, error)
	CreateWithdrawal(ctx context.Context, p WithdrawalParams) (Withdrawal, error)
	ListWithdrawals(ctx context.Context, p ListParams) ([]Withdrawal, error)
	CreateTopup(ctx context.Context, p TopupParams) (Topup, error)
	ListPayoutMethods(ctx context.Context, accountID string) ([]PayoutMethod, error)
	CreateAccountLink(ctx context.Context, p AccountLinkParams) (AccountLink, error)
	CreateAccessToken(ctx context.Context, accountID string) (AccessToken, error)
}
