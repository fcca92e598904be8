package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, email, display_name, role, COALESCE(ledger_account_id, ''), created_at`

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role, &p.LedgerAccountID, &p.CreatedAt)
	return p, err
}

func (s *Store) GetProfile(ctx context.Context, id string) (Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func (s *Store) GetProfileByLedgerAccount(ctx context.Context, ledgerAccountID string) (Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE ledger_account_id = $1`, ledgerAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

// LinkLedgerAccount stores the ledger account on a profile that has none. A
// profile already linked to the same account is a no-op; one linked to a
// different account returns ErrLedgerAccountLinked.
func (s *Store) LinkLedgerAccount(ctx context.Context, userID, ledgerAccountID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE profiles
		SET ledger_account_id = $2, updated_at = now()
		WHERE id = $1 AND ledger_account_id IS NULL
	`, userID, ledgerAccountID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLedgerAccountLinked
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if p.LedgerAccountID == ledgerAccountID {
		return nil
	}
	return ErrLedgerAccountLinked
}

const jobColumns = `id, company_id, COALESCE(creator_id, ''), title, amount, currency, status, payment_status,
	payment_attempts, COALESCE(transfer_id, ''), payment_initiated_at, payment_completed_at, created_at`

func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id).Scan(
		&j.ID,
		&j.CompanyID,
		&j.CreatorID,
		&j.Title,
		&j.Amount,
		&j.Currency,
		&j.Status,
		&j.PaymentStatus,
		&j.PaymentAttempts,
		&j.TransferID,
		&j.PaymentInitiatedAt,
		&j.PaymentCompletedAt,
		&j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, err
	}
	return j, nil
}

// RecordJobTransfer stores the payout row for a transfer that was just
// created and brings the job in line with it, in one transaction. The job
// follows the stored payout: processing while the payout is, paid or failed
// once a delivery has already settled it. Paid jobs never move. It returns
// the stored payout and whether the job row changed.
func (s *Store) RecordJobTransfer(ctx context.Context, in JobTransferInput) (Payout, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payout{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	stored, _, err := upsertPayout(ctx, tx, in.Payout)
	if err != nil {
		return Payout{}, false, err
	}

	var changed bool
	switch stored.Status {
	case StatusCompleted:
		changed, err = markJobPaid(ctx, tx, in.JobID, stored.TransferID)
	case StatusFailed:
		changed, err = markJobPaymentFailed(ctx, tx, in.JobID, stored.TransferID)
	default:
		// A job that already failed on this very transfer stays failed.
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, `
			UPDATE jobs
			SET payment_status = $2,
				transfer_id = $3,
				payment_initiated_at = now(),
				updated_at = now()
			WHERE id = $1
				AND payment_status <> $4
				AND NOT (payment_status = $5 AND transfer_id IS NOT DISTINCT FROM $3)
		`, in.JobID, PaymentProcessing, stored.TransferID, PaymentPaid, PaymentFailed)
		changed = err == nil && tag.RowsAffected() == 1
	}
	if err != nil {
		return Payout{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, false, err
	}
	return stored, changed, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MarkJobPaid sets payment_status to paid unless it already is.
func (s *Store) MarkJobPaid(ctx context.Context, jobID, transferID string) (bool, error) {
	return markJobPaid(ctx, s.pool, jobID, transferID)
}

func markJobPaid(ctx context.Context, q execer, jobID, transferID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET payment_status = $2,
			transfer_id = COALESCE(NULLIF($3, ''), transfer_id),
			payment_completed_at = now(),
			updated_at = now()
		WHERE id = $1 AND payment_status <> $2
	`, jobID, PaymentPaid, transferID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkJobPaymentFailed records a failed payment attempt. Paid jobs never
// regress, and a failure for an older transfer does not touch a job that has
// since been retried with a different one.
func (s *Store) MarkJobPaymentFailed(ctx context.Context, jobID, transferID string) (bool, error) {
	return markJobPaymentFailed(ctx, s.pool, jobID, transferID)
}

func markJobPaymentFailed(ctx context.Context, q execer, jobID, transferID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET payment_status = $2,
			transfer_id = COALESCE(NULLIF($4, ''), transfer_id),
			payment_attempts = payment_attempts + 1,
			updated_at = now()
		WHERE id = $1
			AND payment_status NOT IN ($3, $2)
			AND ($4 = '' OR transfer_id IS NULL OR transfer_id = $4)
	`, jobID, PaymentFailed, PaymentPaid, transferID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const payoutColumns = `id, COALESCE(job_id, ''), COALESCE(creator_id, ''), COALESCE(company_id, ''),
	gross_amount, platform_fee, amount, currency, transfer_id, status, created_at, updated_at`

func scanPayout(row rowScanner) (Payout, error) {
	var p Payout
	err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.CreatorID,
		&p.CompanyID,
		&p.GrossAmount,
		&p.PlatformFee,
		&p.Amount,
		&p.Currency,
		&p.TransferID,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// UpsertPayout inserts the payout or advances an existing row for the same
// transfer. Only processing rows move, so terminal statuses are never
// overwritten and money columns keep their first recorded values. applied is
// false when the stored row was left unchanged.
func (s *Store) UpsertPayout(ctx context.Context, p Payout) (Payout, bool, error) {
	return upsertPayout(ctx, s.pool, p)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertPayout(ctx context.Context, q querier, p Payout) (Payout, bool, error) {
	out, err := scanPayout(q.QueryRow(ctx, `
		INSERT INTO payouts (id, job_id, creator_id, company_id, gross_amount, platform_fee, amount, currency, transfer_id, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transfer_id) DO UPDATE SET
			status = EXCLUDED.status,
			job_id = COALESCE(payouts.job_id, EXCLUDED.job_id),
			creator_id = COALESCE(payouts.creator_id, EXCLUDED.creator_id),
			company_id = COALESCE(payouts.company_id, EXCLUDED.company_id),
			updated_at = now()
		WHERE payouts.status = 'processing' AND EXCLUDED.status <> 'processing'
		RETURNING `+payoutColumns,
		p.ID,
		p.JobID,
		p.CreatorID,
		p.CompanyID,
		p.GrossAmount,
		p.PlatformFee,
		p.Amount,
		p.Currency,
		p.TransferID,
		p.Status,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Payout{}, false, err
	}
	existing, err := scanPayout(q.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE transfer_id = $1`, p.TransferID))
	if err != nil {
		return Payout{}, false, err
	}
	return existing, false, nil
}

// AdvancePayoutStatus moves an existing payout out of processing without
// touching its money columns. It returns ErrNotFound when no payout exists
// for the transfer.
func (s *Store) AdvancePayoutStatus(ctx context.Context, transferID, status string) (Payout, bool, error) {
	out, err := scanPayout(s.pool.QueryRow(ctx, `
		UPDATE payouts
		SET status = $2, updated_at = now()
		WHERE transfer_id = $1 AND status = 'processing' AND $2 <> 'processing'
		RETURNING `+payoutColumns, transferID, status))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Payout{}, false, err
	}
	existing, err := scanPayout(s.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE transfer_id = $1`, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, false, ErrNotFound
		}
		return Payout{}, false, err
	}
	return existing, false, nil
}

const withdrawalColumns = `id, COALESCE(user_id, ''), COALESCE(ledger_account_id, ''), amount, currency,
	withdrawal_id, payout_method_id, status, failure_reason, created_at, updated_at`

func scanWithdrawal(row rowScanner) (Withdrawal, error) {
	var w Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.LedgerAccountID,
		&w.Amount,
		&w.Currency,
		&w.WithdrawalID,
		&w.PayoutMethodID,
		&w.Status,
		&w.FailureReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

// UpsertWithdrawal follows the same monotonic rule as UpsertPayout, keyed by
// the ledger withdrawal id.
func (s *Store) UpsertWithdrawal(ctx context.Context, w Withdrawal) (Withdrawal, bool, error) {
	out, err := scanWithdrawal(s.pool.QueryRow(ctx, `
		INSERT INTO withdrawals (id, user_id, ledger_account_id, amount, currency, withdrawal_id, payout_method_id, status, failure_reason)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (withdrawal_id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			user_id = COALESCE(withdrawals.user_id, EXCLUDED.user_id),
			ledger_account_id = COALESCE(withdrawals.ledger_account_id, EXCLUDED.ledger_account_id),
			payout_method_id = CASE WHEN withdrawals.payout_method_id = '' THEN EXCLUDED.payout_method_id ELSE withdrawals.payout_method_id END,
			updated_at = now()
		WHERE withdrawals.status = 'processing' AND EXCLUDED.status <> 'processing'
		RETURNING `+withdrawalColumns,
		w.ID,
		w.UserID,
		w.LedgerAccountID,
		w.Amount,
		w.Currency,
		w.WithdrawalID,
		w.PayoutMethodID,
		w.Status,
		w.FailureReason,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, false, err
	}
	existing, err := scanWithdrawal(s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE withdrawal_id = $1`, w.WithdrawalID))
	if err != nil {
		return Withdrawal{}, false, err
	}
	return existing, false, nil
}

// AdvanceWithdrawalStatus is AdvancePayoutStatus for withdrawals.
func (s *Store) AdvanceWithdrawalStatus(ctx context.Context, withdrawalID, status, failureReason string) (Withdrawal, bool, error) {
	out, err := scanWithdrawal(s.pool.QueryRow(ctx, `
		UPDATE withdrawals
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE withdrawal_id = $1 AND status = 'processing' AND $2 <> 'processing'
		RETURNING `+withdrawalColumns, withdrawalID, status, failureReason))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, false, err
	}
	existing, err := scanWithdrawal(s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE withdrawal_id = $1`, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, false, ErrNotFound
		}
		return Withdrawal{}, false, err
	}
	return existing, false, nil
}

const topupColumns = `id, COALESCE(company_id, ''), COALESCE(ledger_account_id, ''), amount, currency,
	topup_id, status, created_at, updated_at`

func scanTopup(row rowScanner) (Topup, error) {
	var t Topup
	err := row.Scan(
		&t.ID,
		&t.CompanyID,
		&t.LedgerAccountID,
		&t.Amount,
		&t.Currency,
		&t.TopupID,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func (s *Store) UpsertTopup(ctx context.Context, t Topup) (Topup, bool, error) {
	out, err := scanTopup(s.pool.QueryRow(ctx, `
		INSERT INTO company_topups (id, company_id, ledger_account_id, amount, currency, topup_id, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (topup_id) DO UPDATE SET
			status = EXCLUDED.status,
			company_id = COALESCE(company_topups.company_id, EXCLUDED.company_id),
			ledger_account_id = COALESCE(company_topups.ledger_account_id, EXCLUDED.ledger_account_id),
			updated_at = now()
		WHERE company_topups.status = 'processing' AND EXCLUDED.status <> 'processing'
		RETURNING `+topupColumns,
		t.ID,
		t.CompanyID,
		t.LedgerAccountID,
		t.Amount,
		t.Currency,
		t.TopupID,
		t.Status,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Topup{}, false, err
	}
	existing, err := scanTopup(s.pool.QueryRow(ctx, `SELECT `+topupColumns+` FROM company_topups WHERE topup_id = $1`, t.TopupID))
	if err != nil {
		return Topup{}, false, err
	}
	return existing, false, nil
}

// AdvanceTopupStatus is AdvancePayoutStatus for topups.
func (s *Store) AdvanceTopupStatus(ctx context.Context, topupID, status string) (Topup, bool, error) {
	out, err := scanTopup(s.pool.QueryRow(ctx, `
		UPDATE company_topups
		SET status = $2, updated_at = now()
		WHERE topup_id = $1 AND status = 'processing' AND $2 <> 'processing'
		RETURNING `+topupColumns, topupID, status))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Topup{}, false, err
	}
	existing, err := scanTopup(s.pool.QueryRow(ctx, `SELECT `+topupColumns+` FROM company_topups WHERE topup_id = $1`, topupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Topup{}, false, ErrNotFound
		}
		return Topup{}, false, err
	}
	return existing, false, nil
}

// RecordWebhookEvent stores a delivery the first time it is seen and returns
// the stored row either way.
func (s *Store) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (WebhookEvent, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, payload)
	if err != nil {
		return WebhookEvent{}, err
	}

	var ev WebhookEvent
	err = s.pool.QueryRow(ctx, `
		SELECT event_id, event_type, processed_at, processing_error
		FROM webhook_events
		WHERE event_id = $1
	`, eventID).Scan(&ev.EventID, &ev.EventType, &ev.ProcessedAt, &ev.ProcessingError)
	if err != nil {
		return WebhookEvent{}, err
	}
	return ev, nil
}

func (s *Store) MarkWebhookEventProcessed(ctx context.Context, eventID, processingError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET processed_at = now(), processing_error = $2
		WHERE event_id = $1
	`, eventID, processingError)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
