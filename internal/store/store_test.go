package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"creatorlink.payments/internal/store"
)

func setupStore(t *testing.T) (*store.Store, *pgxpool.Pool) {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	t.Cleanup(pool.Close)

	applySchema(t, pool)
	resetDB(t, pool)
	return store.New(pool), pool
}

func seedJob(t *testing.T, pool *pgxpool.Pool, jobID, status string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stmts := []string{
		`INSERT INTO profiles (id, role) VALUES ('company-1', 'company') ON CONFLICT DO NOTHING`,
		`INSERT INTO profiles (id, role) VALUES ('creator-1', 'creator') ON CONFLICT DO NOTHING`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("seed profiles: %v", err)
		}
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO jobs (id, company_id, creator_id, amount, status)
		VALUES ($1, 'company-1', 'creator-1', 100.00, $2)
	`, jobID, status)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func processingPayout(transferID string) store.Payout {
	return store.Payout{
		ID:          "payout-" + transferID,
		JobID:       "job-1",
		CreatorID:   "creator-1",
		CompanyID:   "company-1",
		GrossAmount: decimal.RequireFromString("100.00"),
		PlatformFee: decimal.RequireFromString("7.00"),
		Amount:      decimal.RequireFromString("93.00"),
		Currency:    "USD",
		TransferID:  transferID,
		Status:      store.StatusProcessing,
	}
}

func TestLinkLedgerAccount(t *testing.T) {
	s, pool := setupStore(t)
	seedJob(t, pool, "job-1", store.JobStatusApproved)
	ctx := context.Background()

	if err := s.LinkLedgerAccount(ctx, "creator-1", "acct_1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.LinkLedgerAccount(ctx, "creator-1", "acct_1"); err != nil {
		t.Fatalf("relink same account: %v", err)
	}
	if err := s.LinkLedgerAccount(ctx, "creator-1", "acct_2"); !errors.Is(err, store.ErrLedgerAccountLinked) {
		t.Fatalf("expected ErrLedgerAccountLinked, got %v", err)
	}
	if err := s.LinkLedgerAccount(ctx, "missing", "acct_3"); !errors.Is(err, store.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}

	p, err := s.GetProfileByLedgerAccount(ctx, "acct_1")
	if err != nil {
		t.Fatalf("lookup by account: %v", err)
	}
	if p.ID != "creator-1" {
		t.Fatalf("expected creator-1, got %s", p.ID)
	}
}

func TestRecordJobTransferSkipsPaidJob(t *testing.T) {
	s, pool := setupStore(t)
	seedJob(t, pool, "job-1", store.JobStatusApproved)
	ctx := context.Background()

	_, updated, err := s.RecordJobTransfer(ctx, store.JobTransferInput{JobID: "job-1", Payout: processingPayout("tr_1")})
	if err != nil {
		t.Fatalf("record transfer: %v", err)
	}
	if !updated {
		t.Fatalf("expected job row to change")
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.PaymentStatus != store.PaymentProcessing || job.TransferID != "tr_1" || job.PaymentInitiatedAt == nil {
		t.Fatalf("unexpected job after transfer: %+v", job)
	}

	if _, err := s.MarkJobPaid(ctx, "job-1", "tr_1"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	_, updated, err = s.RecordJobTransfer(ctx, store.JobTransferInput{JobID: "job-1", Payout: processingPayout("tr_2")})
	if err != nil {
		t.Fatalf("record second transfer: %v", err)
	}
	if updated {
		t.Fatalf("paid job must not move back to processing")
	}
	job, _ = s.GetJob(ctx, "job-1")
	if job.PaymentStatus != store.PaymentPaid {
		t.Fatalf("expected paid, got %s", job.PaymentStatus)
	}
}

func TestUpsertPayoutIsMonotonic(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	p := processingPayout("tr_1")
	if _, applied, err := s.UpsertPayout(ctx, p); err != nil || !applied {
		t.Fatalf("insert payout: applied=%v err=%v", applied, err)
	}

	p.Status = store.StatusCompleted
	p.Amount = decimal.RequireFromString("1.00")
	got, applied, err := s.UpsertPayout(ctx, p)
	if err != nil || !applied {
		t.Fatalf("complete payout: applied=%v err=%v", applied, err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("93.00")) {
		t.Fatalf("amount overwritten: %s", got.Amount)
	}

	p.Status = store.StatusFailed
	got, applied, err = s.UpsertPayout(ctx, p)
	if err != nil {
		t.Fatalf("late failure: %v", err)
	}
	if applied || got.Status != store.StatusCompleted {
		t.Fatalf("completed payout regressed: applied=%v status=%s", applied, got.Status)
	}

	// duplicate delivery
	got, applied, err = s.UpsertPayout(ctx, processingPayout("tr_1"))
	if err != nil || applied {
		t.Fatalf("duplicate insert: applied=%v err=%v", applied, err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestMarkJobPaymentFailedIgnoresStaleTransfer(t *testing.T) {
	s, pool := setupStore(t)
	seedJob(t, pool, "job-1", store.JobStatusApproved)
	ctx := context.Background()

	if _, _, err := s.RecordJobTransfer(ctx, store.JobTransferInput{JobID: "job-1", Payout: processingPayout("tr_2")}); err != nil {
		t.Fatalf("record transfer: %v", err)
	}

	changed, err := s.MarkJobPaymentFailed(ctx, "job-1", "tr_1")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if changed {
		t.Fatalf("failure for an older transfer must not change the job")
	}

	changed, err = s.MarkJobPaymentFailed(ctx, "job-1", "tr_2")
	if err != nil || !changed {
		t.Fatalf("mark failed current transfer: changed=%v err=%v", changed, err)
	}
	job, _ := s.GetJob(ctx, "job-1")
	if job.PaymentStatus != store.PaymentFailed || job.PaymentAttempts != 1 {
		t.Fatalf("unexpected job: status=%s attempts=%d", job.PaymentStatus, job.PaymentAttempts)
	}

	changed, _ = s.MarkJobPaymentFailed(ctx, "job-1", "tr_2")
	if changed {
		t.Fatalf("repeated failure must not count twice")
	}
}

func TestRecordJobTransferFollowsSettledPayout(t *testing.T) {
	s, pool := setupStore(t)
	seedJob(t, pool, "job-1", store.JobStatusApproved)
	ctx := context.Background()

	// the failure delivery lands before the local write
	failed := processingPayout("tr_1")
	failed.Status = store.StatusFailed
	if _, _, err := s.UpsertPayout(ctx, failed); err != nil {
		t.Fatalf("upsert failed payout: %v", err)
	}
	if _, err := s.MarkJobPaymentFailed(ctx, "job-1", "tr_1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stored, changed, err := s.RecordJobTransfer(ctx, store.JobTransferInput{JobID: "job-1", Payout: processingPayout("tr_1")})
	if err != nil {
		t.Fatalf("record transfer: %v", err)
	}
	if changed || stored.Status != store.StatusFailed {
		t.Fatalf("expected settled payout to win: changed=%v status=%s", changed, stored.Status)
	}
	job, _ := s.GetJob(ctx, "job-1")
	if job.PaymentStatus != store.PaymentFailed || job.PaymentAttempts != 1 || job.TransferID != "tr_1" {
		t.Fatalf("job regressed: status=%s attempts=%d transfer=%s", job.PaymentStatus, job.PaymentAttempts, job.TransferID)
	}

	// a retry with a new transfer moves the job again
	_, changed, err = s.RecordJobTransfer(ctx, store.JobTransferInput{JobID: "job-1", Payout: processingPayout("tr_2")})
	if err != nil || !changed {
		t.Fatalf("record retry: changed=%v err=%v", changed, err)
	}
	job, _ = s.GetJob(ctx, "job-1")
	if job.PaymentStatus != store.PaymentProcessing || job.TransferID != "tr_2" {
		t.Fatalf("unexpected job after retry: %+v", job)
	}
}

func TestAdvanceStatusNeverInserts(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	if _, _, err := s.AdvancePayoutStatus(ctx, "tr_missing", store.StatusCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.AdvanceWithdrawalStatus(ctx, "wd_missing", store.StatusCompleted, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.AdvanceTopupStatus(ctx, "tp_missing", store.StatusCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, _, err := s.UpsertPayout(ctx, processingPayout("tr_1")); err != nil {
		t.Fatalf("insert payout: %v", err)
	}
	got, applied, err := s.AdvancePayoutStatus(ctx, "tr_1", store.StatusCompleted)
	if err != nil || !applied {
		t.Fatalf("advance payout: applied=%v err=%v", applied, err)
	}
	if got.Status != store.StatusCompleted || !got.Amount.Equal(decimal.RequireFromString("93.00")) {
		t.Fatalf("unexpected payout: %+v", got)
	}
	if _, applied, _ := s.AdvancePayoutStatus(ctx, "tr_1", store.StatusFailed); applied {
		t.Fatalf("completed payout regressed")
	}
}

func TestUpsertWithdrawalKeepsFailureReason(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	w := store.Withdrawal{
		ID:             "w-1",
		UserID:         "creator-1",
		Amount:         decimal.RequireFromString("25.00"),
		Currency:       "USD",
		WithdrawalID:   "wd_1",
		PayoutMethodID: "pm_1",
		Status:         store.StatusProcessing,
	}
	if _, _, err := s.UpsertWithdrawal(ctx, w); err != nil {
		t.Fatalf("insert withdrawal: %v", err)
	}

	w.ID = "w-2"
	w.Status = store.StatusFailed
	w.FailureReason = "account closed"
	got, applied, err := s.UpsertWithdrawal(ctx, w)
	if err != nil || !applied {
		t.Fatalf("fail withdrawal: applied=%v err=%v", applied, err)
	}
	if got.ID != "w-1" || got.FailureReason != "account closed" {
		t.Fatalf("unexpected withdrawal: %+v", got)
	}
}

func TestWebhookEventAudit(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	ev, err := s.RecordWebhookEvent(ctx, "evt_1", "transfer.completed", []byte(`{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if ev.ProcessedAt != nil {
		t.Fatalf("new event already processed")
	}
	if err := s.MarkWebhookEventProcessed(ctx, "evt_1", ""); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	ev, err = s.RecordWebhookEvent(ctx, "evt_1", "transfer.completed", []byte(`{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if ev.ProcessedAt == nil || ev.ProcessingError != "" {
		t.Fatalf("duplicate should see processed row: %+v", ev)
	}
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	schema := loadSchema(t)
	statements := strings.Split(schema, ";")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range statements {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, "TRUNCATE webhook_events, company_topups, withdrawals, payouts, jobs, profiles"); err != nil {
		t.Fatalf("reset db: %v", err)
	}
}

func loadSchema(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := wd
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "schema.sql")
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("schema.sql not found from %s", wd)
	return ""
}
