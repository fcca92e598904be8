package payments

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/ledger"
)

type ReconcileReport struct {
	Transfers   int
	Withdrawals int
	Applied     int
	Failed      int
}

// Reconcile lists ledger transfers and withdrawals created after since and
// applies each through the same upserts the webhook handler uses. It fills
// gaps left by lost deliveries or by local writes that failed after the
// ledger accepted a request.
func (s *Service) Reconcile(ctx context.Context, since time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	log := s.logger.WithField("since", since.UTC().Format(time.RFC3339))

	transfers, err := s.ledger.ListTransfers(ctx, ledger.ListParams{
		AccountID:    s.cfg.PlatformAccountID,
		CreatedAfter: since,
	})
	if err != nil {
		return report, upstream(ReasonLedgerUnavailable, err)
	}
	for _, tr := range transfers {
		report.Transfers++
		applied, err := s.applyTransfer(ctx, tr)
		countReconciled(&report, "transfer", applied, err, log.WithField("transfer_id", tr.ID))
	}

	wds, err := s.ledger.ListWithdrawals(ctx, ledger.ListParams{CreatedAfter: since})
	if err != nil {
		return report, upstream(ReasonLedgerUnavailable, err)
	}
	for _, wd := range wds {
		report.Withdrawals++
		applied, err := s.applyWithdrawal(ctx, wd)
		countReconciled(&report, "withdrawal", applied, err, log.WithField("withdrawal_id", wd.ID))
	}

	log.WithFields(logrus.Fields{
		"transfers":   report.Transfers,
		"withdrawals": report.Withdrawals,
		"applied":     report.Applied,
		"failed":      report.Failed,
	}).Info("reconciliation sweep finished")
	return report, nil
}

func countReconciled(report *ReconcileReport, kind string, applied bool, err error, log logrus.FieldLogger) {
	switch {
	case err != nil:
		report.Failed++
		reconcileObjects.WithLabelValues(kind, "error").Inc()
		log.WithError(err).Error("reconcile object failed")
	case applied:
		report.Applied++
		reconcileObjects.WithLabelValues(kind, "applied").Inc()
	default:
		reconcileObjects.WithLabelValues(kind, "unchanged").Inc()
	}
}
