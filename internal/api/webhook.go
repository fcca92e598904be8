package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"creatorlink.payments/internal/ledger"
)

const webhookTolerance = 5 * time.Minute

type webhookAck struct {
	Received bool `json:"received"`
}

// handleLedgerWebhook acknowledges every authenticated delivery with 200.
// Reconciliation outcomes are logged, never reported back to the ledger.
func (s *Server) handleLedgerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logEvent("webhook_event_rejected", map[string]any{"reason": "read_failed", "error": err.Error()})
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	if s.webhookSecret != "" {
		if err := ledger.VerifySignature(s.webhookSecret, r.Header.Get(ledger.SignatureHeader), body, s.now(), webhookTolerance); err != nil {
			s.logEvent("webhook_signature_invalid", map[string]any{"error": err.Error()})
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}
	}

	ev, err := ledger.ParseEvent(body)
	if err != nil {
		s.logEvent("webhook_event_rejected", map[string]any{"reason": "malformed", "error": err.Error()})
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	// The ledger may hang up once it has sent the body; finish regardless.
	s.payments.HandleEvent(context.WithoutCancel(r.Context()), ev)
	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}
