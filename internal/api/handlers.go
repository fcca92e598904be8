package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"creatorlink.payments/internal/fees"
	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/payments"
)

// Payments is the set of operations the transport exposes.
type Payments interface {
	EnsureAccount(ctx context.Context, actor payments.Actor, userID, role string) (payments.AccountResult, error)
	IdentityVerificationLink(ctx context.Context, actor payments.Actor, userID string) (ledger.AccountLink, error)
	PayoutMethodLink(ctx context.Context, actor payments.Actor, userID string) (ledger.AccountLink, error)
	ResolveSession(ctx context.Context, actor payments.Actor, userID string) (payments.Session, error)
	GetPortalLink(ctx context.Context, actor payments.Actor, userID string) (ledger.AccountLink, error)
	ListPayoutMethods(ctx context.Context, actor payments.Actor, userID string) ([]ledger.PayoutMethod, error)
	CreateAccessToken(ctx context.Context, actor payments.Actor, userID string) (ledger.AccessToken, error)
	PayJob(ctx context.Context, actor payments.Actor, jobID string) (payments.PaymentResult, error)
	Withdraw(ctx context.Context, actor payments.Actor, req payments.WithdrawalRequest) (payments.WithdrawalResult, error)
	Topup(ctx context.Context, actor payments.Actor, req payments.TopupRequest) (payments.TopupResult, error)
	HandleEvent(ctx context.Context, ev ledger.Event)
}

type ensureAccountRequest struct {
	Role string `json:"role" validate:"required,oneof=creator company"`
}

type accountResponse struct {
	LedgerAccountID   string `json:"ledger_account_id"`
	AlreadyConfigured bool   `json:"already_configured"`
	Message           string `json:"message,omitempty"`
}

type linkResponse struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type sessionResponse struct {
	LedgerAccountID string `json:"ledger_account_id,omitempty"`
	NeedsSetup      bool   `json:"needs_setup"`
}

type payoutMethodResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	IsDefault bool   `json:"is_default"`
}

type accessTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type breakdownResponse struct {
	Gross           string `json:"gross"`
	Fee             string `json:"fee"`
	CreatorReceives string `json:"creator_receives"`
	FeePercent      string `json:"fee_percent"`
}

func toBreakdownResponse(b fees.Breakdown) breakdownResponse {
	return breakdownResponse{
		Gross:           money.Format(b.Gross),
		Fee:             money.Format(b.Fee),
		CreatorReceives: money.Format(b.CreatorReceives),
		FeePercent:      b.FeePercent.String(),
	}
}

func toLinkResponse(l ledger.AccountLink) linkResponse {
	resp := linkResponse{URL: l.URL}
	if !l.ExpiresAt.IsZero() {
		exp := l.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	gross, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	b, err := payments.PreviewBreakdown(gross)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownResponse(b))
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req ensureAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.logEvent("ledger_account_failed", map[string]any{"reason": "invalid_request", "user_id": userID})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.logEvent("ledger_account_failed", map[string]any{"reason": "invalid_request", "user_id": userID})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.payments.EnsureAccount(r.Context(), actorFrom(r), userID, req.Role)
	if err != nil {
		code := writeServiceError(w, err)
		s.logEvent("ledger_account_failed", map[string]any{"reason": code, "user_id": userID, "error": err.Error()})
		return
	}

	if res.AlreadyConfigured {
		writeJSON(w, http.StatusOK, accountResponse{
			LedgerAccountID:   res.LedgerAccountID,
			AlreadyConfigured: true,
			Message:           payments.ReasonAlreadyConfigured,
		})
		return
	}
	s.logEvent("ledger_account_created", map[string]any{"user_id": userID, "ledger_account_id": res.LedgerAccountID})
	writeJSON(w, http.StatusCreated, accountResponse{LedgerAccountID: res.LedgerAccountID})
}

func (s *Server) handleVerificationLink(w http.ResponseWriter, r *http.Request) {
	s.serveLink(w, r, "verification_link", s.payments.IdentityVerificationLink)
}

func (s *Server) handlePayoutMethodLink(w http.ResponseWriter, r *http.Request) {
	s.serveLink(w, r, "payout_method_link", s.payments.PayoutMethodLink)
}

func (s *Server) handlePortalLink(w http.ResponseWriter, r *http.Request) {
	s.serveLink(w, r, "payout_portal_link", s.payments.GetPortalLink)
}

type linkFunc func(ctx context.Context, actor payments.Actor, userID string) (ledger.AccountLink, error)

func (s *Server) serveLink(w http.ResponseWriter, r *http.Request, event string, fn linkFunc) {
	userID := chi.URLParam(r, "userID")
	link, err := fn(r.Context(), actorFrom(r), userID)
	if err != nil {
		code := writeServiceError(w, err)
		s.logEvent(event+"_failed", map[string]any{"reason": code, "user_id": userID, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

func (s *Server) handleResolveSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.payments.ResolveSession(r.Context(), actorFrom(r), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		LedgerAccountID: sess.LedgerAccountID,
		NeedsSetup:      sess.NeedsSetup,
	})
}

func (s *Server) handleListPayoutMethods(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	methods, err := s.payments.ListPayoutMethods(r.Context(), actorFrom(r), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]payoutMethodResponse, 0, len(methods))
	for _, m := range methods {
		out = append(out, payoutMethodResponse{ID: m.ID, Type: m.Type, Label: m.Label, IsDefault: m.IsDefault})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	tok, err := s.payments.CreateAccessToken(r.Context(), actorFrom(r), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessTokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}
