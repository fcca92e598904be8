package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/store"
)

// fakeStore mirrors the conditional SQL in internal/store closely enough for
// the flows under test.
type fakeStore struct {
	mu sync.Mutex

	profiles    map[string]store.Profile
	jobs        map[string]store.Job
	payouts     map[string]store.Payout
	withdrawals map[string]store.Withdrawal
	topups      map[string]store.Topup
	events      map[string]store.WebhookEvent

	linkErr   error
	recordErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[string]store.Profile),
		jobs:        make(map[string]store.Job),
		payouts:     make(map[string]store.Payout),
		withdrawals: make(map[string]store.Withdrawal),
		topups:      make(map[string]store.Topup),
		events:      make(map[string]store.WebhookEvent),
	}
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, store.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeStore) GetProfileByLedgerAccount(_ context.Context, ledgerAccountID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.LedgerAccountID == ledgerAccountID {
			return p, nil
		}
	}
	return store.Profile{}, store.ErrProfileNotFound
}

func (f *fakeStore) LinkLedgerAccount(_ context.Context, userID, ledgerAccountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	if p.LedgerAccountID != "" && p.LedgerAccountID != ledgerAccountID {
		return store.ErrLedgerAccountLinked
	}
	p.LedgerAccountID = ledgerAccountID
	f.profiles[userID] = p
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.Job{}, store.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeStore) RecordJobTransfer(_ context.Context, in store.JobTransferInput) (store.Payout, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return store.Payout{}, false, f.recordErr
	}
	stored, _ := f.upsertPayoutLocked(in.Payout)

	switch stored.Status {
	case store.StatusCompleted:
		return stored, f.markJobPaidLocked(in.JobID, stored.TransferID), nil
	case store.StatusFailed:
		return stored, f.markJobPaymentFailedLocked(in.JobID, stored.TransferID), nil
	}

	j, ok := f.jobs[in.JobID]
	if !ok || j.PaymentStatus == store.PaymentPaid {
		return stored, false, nil
	}
	if j.PaymentStatus == store.PaymentFailed && j.TransferID == stored.TransferID {
		return stored, false, nil
	}
	now := time.Now()
	j.PaymentStatus = store.PaymentProcessing
	j.TransferID = stored.TransferID
	j.PaymentInitiatedAt = &now
	f.jobs[in.JobID] = j
	return stored, true, nil
}

func (f *fakeStore) MarkJobPaid(_ context.Context, jobID, transferID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markJobPaidLocked(jobID, transferID), nil
}

func (f *fakeStore) markJobPaidLocked(jobID, transferID string) bool {
	j, ok := f.jobs[jobID]
	if !ok || j.PaymentStatus == store.PaymentPaid {
		return false
	}
	now := time.Now()
	j.PaymentStatus = store.PaymentPaid
	if transferID != "" {
		j.TransferID = transferID
	}
	j.PaymentCompletedAt = &now
	f.jobs[jobID] = j
	return true
}

func (f *fakeStore) MarkJobPaymentFailed(_ context.Context, jobID, transferID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markJobPaymentFailedLocked(jobID, transferID), nil
}

func (f *fakeStore) markJobPaymentFailedLocked(jobID, transferID string) bool {
	j, ok := f.jobs[jobID]
	if !ok || j.PaymentStatus == store.PaymentPaid || j.PaymentStatus == store.PaymentFailed {
		return false
	}
	if transferID != "" && j.TransferID != "" && j.TransferID != transferID {
		return false
	}
	j.PaymentStatus = store.PaymentFailed
	if transferID != "" {
		j.TransferID = transferID
	}
	j.PaymentAttempts++
	f.jobs[jobID] = j
	return true
}

func (f *fakeStore) UpsertPayout(_ context.Context, p store.Payout) (store.Payout, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, applied := f.upsertPayoutLocked(p)
	return out, applied, nil
}

func (f *fakeStore) upsertPayoutLocked(p store.Payout) (store.Payout, bool) {
	cur, ok := f.payouts[p.TransferID]
	if !ok {
		f.payouts[p.TransferID] = p
		return p, true
	}
	if cur.Status != store.StatusProcessing || p.Status == store.StatusProcessing {
		return cur, false
	}
	cur.Status = p.Status
	if cur.JobID == "" {
		cur.JobID = p.JobID
	}
	f.payouts[p.TransferID] = cur
	return cur, true
}

func (f *fakeStore) UpsertWithdrawal(_ context.Context, w store.Withdrawal) (store.Withdrawal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.withdrawals[w.WithdrawalID]
	if !ok {
		f.withdrawals[w.WithdrawalID] = w
		return w, true, nil
	}
	if cur.Status != store.StatusProcessing || w.Status == store.StatusProcessing {
		return cur, false, nil
	}
	cur.Status = w.Status
	cur.FailureReason = w.FailureReason
	if cur.UserID == "" {
		cur.UserID = w.UserID
	}
	f.withdrawals[w.WithdrawalID] = cur
	return cur, true, nil
}

func (f *fakeStore) UpsertTopup(_ context.Context, t store.Topup) (store.Topup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.topups[t.TopupID]
	if !ok {
		f.topups[t.TopupID] = t
		return t, true, nil
	}
	if cur.Status != store.StatusProcessing || t.Status == store.StatusProcessing {
		return cur, false, nil
	}
	cur.Status = t.Status
	f.topups[t.TopupID] = cur
	return cur, true, nil
}

func (f *fakeStore) AdvancePayoutStatus(_ context.Context, transferID, status string) (store.Payout, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.payouts[transferID]
	if !ok {
		return store.Payout{}, false, store.ErrNotFound
	}
	if cur.Status != store.StatusProcessing || status == store.StatusProcessing {
		return cur, false, nil
	}
	cur.Status = status
	f.payouts[transferID] = cur
	return cur, true, nil
}

func (f *fakeStore) AdvanceWithdrawalStatus(_ context.Context, withdrawalID, status, failureReason string) (store.Withdrawal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.withdrawals[withdrawalID]
	if !ok {
		return store.Withdrawal{}, false, store.ErrNotFound
	}
	if cur.Status != store.StatusProcessing || status == store.StatusProcessing {
		return cur, false, nil
	}
	cur.Status = status
	cur.FailureReason = failureReason
	f.withdrawals[withdrawalID] = cur
	return cur, true, nil
}

func (f *fakeStore) AdvanceTopupStatus(_ context.Context, topupID, status string) (store.Topup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.topups[topupID]
	if !ok {
		return store.Topup{}, false, store.ErrNotFound
	}
	if cur.Status != store.StatusProcessing || status == store.StatusProcessing {
		return cur, false, nil
	}
	cur.Status = status
	f.topups[topupID] = cur
	return cur, true, nil
}

func (f *fakeStore) RecordWebhookEvent(_ context.Context, eventID, eventType string, _ []byte) (store.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		ev = store.WebhookEvent{EventID: eventID, EventType: eventType}
		f.events[eventID] = ev
	}
	return ev, nil
}

func (f *fakeStore) MarkWebhookEventProcessed(_ context.Context, eventID, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	now := time.Now()
	ev.ProcessedAt = &now
	ev.ProcessingError = processingError
	f.events[eventID] = ev
	return nil
}

// fakeLedger deduplicates mutating calls by idempotency key like the real
// ledger does, and counts every call.
type fakeLedger struct {
	mu    sync.Mutex
	calls map[string]int

	accounts  map[string]ledger.Account
	transfers map[string]ledger.Transfer

	transferStatus ledger.Status
	transferErr    error
	withdrawalErr  error
	methodsErr     error

	lastTransfer   ledger.TransferParams
	lastWithdrawal ledger.WithdrawalParams
	lastTopup      ledger.TopupParams
	lastLink       ledger.AccountLinkParams

	listedTransfers   []ledger.Transfer
	listedWithdrawals []ledger.Withdrawal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		calls:          make(map[string]int),
		accounts:       make(map[string]ledger.Account),
		transfers:      make(map[string]ledger.Transfer),
		transferStatus: ledger.StatusProcessing,
	}
}

func (f *fakeLedger) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeLedger) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeLedger) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeLedger) CreateAccount(_ context.Context, p ledger.CreateAccountParams) (ledger.Account, error) {
	f.count("CreateAccount")
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[p.IdempotencyKey]; ok {
		return a, nil
	}
	a := ledger.Account{ID: fmt.Sprintf("acct_%d", len(f.accounts)+1), ParentID: p.ParentAccountID, Metadata: p.Metadata}
	f.accounts[p.IdempotencyKey] = a
	return a, nil
}

func (f *fakeLedger) CreateTransfer(_ context.Context, p ledger.TransferParams) (ledger.Transfer, error) {
	f.count("CreateTransfer")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTransfer = p
	if f.transferErr != nil {
		return ledger.Transfer{}, f.transferErr
	}
	if tr, ok := f.transfers[p.IdempotencyKey]; ok {
		return tr, nil
	}
	tr := ledger.Transfer{
		ID:                   fmt.Sprintf("tr_%d", len(f.transfers)+1),
		OriginAccountID:      p.OriginAccountID,
		DestinationAccountID: p.DestinationAccountID,
		AmountMinor:          p.AmountMinor,
		Currency:             p.Currency,
		Status:               f.transferStatus,
		Metadata:             p.Metadata,
	}
	f.transfers[p.IdempotencyKey] = tr
	return tr, nil
}

func (f *fakeLedger) ListTransfers(context.Context, ledger.ListParams) ([]ledger.Transfer, error) {
	f.count("ListTransfers")
	return f.listedTransfers, nil
}

func (f *fakeLedger) CreateWithdrawal(_ context.Context, p ledger.WithdrawalParams) (ledger.Withdrawal, error) {
	f.count("CreateWithdrawal")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWithdrawal = p
	if f.withdrawalErr != nil {
		return ledger.Withdrawal{}, f.withdrawalErr
	}
	return ledger.Withdrawal{
		ID:             "wd_1",
		AccountID:      p.AccountID,
		PayoutMethodID: p.PayoutMethodID,
		AmountMinor:    p.AmountMinor,
		Currency:       p.Currency,
		Status:         ledger.StatusProcessing,
	}, nil
}

func (f *fakeLedger) ListWithdrawals(context.Context, ledger.ListParams) ([]ledger.Withdrawal, error) {
	f.count("ListWithdrawals")
	return f.listedWithdrawals, nil
}

func (f *fakeLedger) CreateTopup(_ context.Context, p ledger.TopupParams) (ledger.Topup, error) {
	f.count("CreateTopup")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTopup = p
	return ledger.Topup{
		ID:              "tp_1",
		AccountID:       p.AccountID,
		PaymentMethodID: p.PaymentMethodID,
		AmountMinor:     p.AmountMinor,
		Currency:        p.Currency,
		Status:          ledger.StatusProcessing,
	}, nil
}

func (f *fakeLedger) ListPayoutMethods(context.Context, string) ([]ledger.PayoutMethod, error) {
	f.count("ListPayoutMethods")
	if f.methodsErr != nil {
		return nil, f.methodsErr
	}
	return []ledger.PayoutMethod{{ID: "pm_1", Type: "bank_account", Label: "Checking ••42", IsDefault: true}}, nil
}

func (f *fakeLedger) CreateAccountLink(_ context.Context, p ledger.AccountLinkParams) (ledger.AccountLink, error) {
	f.count("CreateAccountLink")
	f.mu.Lock()
	f.lastLink = p
	f.mu.Unlock()
	return ledger.AccountLink{URL: "https://ledger.test/" + string(p.Kind) + "/" + p.AccountID}, nil
}

func (f *fakeLedger) CreateAccessToken(_ context.Context, accountID string) (ledger.AccessToken, error) {
	f.count("CreateAccessToken")
	return ledger.AccessToken{Token: "tok_" + accountID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

var errLedgerDown = errors.New("ledger: connection reset")
