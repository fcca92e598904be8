package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"creatorlink.payments/internal/money"
	"creatorlink.payments/internal/payments"
)

type payJobResponse struct {
	JobID      string            `json:"job_id"`
	TransferID string            `json:"transfer_id"`
	Status     string            `json:"status"`
	Breakdown  breakdownResponse `json:"breakdown"`
}

type createWithdrawalRequest struct {
	UserID         string          `json:"user_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PayoutMethodID string          `json:"payout_method_id"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type withdrawalResponse struct {
	WithdrawalID string `json:"withdrawal_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

type createTopupRequest struct {
	CompanyID       string          `json:"company_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
}

type topupResponse struct {
	TopupID  string `json:"topup_id"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee"`
	Credited string `json:"credited"`
	Status   string `json:"status"`
}

func (s *Server) handlePayJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	actor := actorFrom(r)

	res, err := s.payments.PayJob(r.Context(), actor, jobID)
	if err != nil {
		code := writeServiceError(w, err)
		s.logEvent("job_payment_failed", map[string]any{
			"reason":       code,
			"job_id":       jobID,
			"initiator_id": actor.UserID,
			"error":        err.Error(),
		})
		return
	}

	s.logEvent("job_payment_initiated", map[string]any{
		"job_id":       res.JobID,
		"transfer_id":  res.TransferID,
		"initiator_id": actor.UserID,
		"amount":       money.Format(res.Breakdown.CreatorReceives),
	})
	writeJSON(w, http.StatusCreated, payJobResponse{
		JobID:      res.JobID,
		TransferID: res.TransferID,
		Status:     string(res.Status),
		Breakdown:  toBreakdownResponse(res.Breakdown),
	})
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.logEvent("withdrawal_create_failed", map[string]any{"reason": "invalid_request"})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.logEvent("withdrawal_create_failed", map[string]any{"reason": "invalid_request"})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.payments.Withdraw(r.Context(), actorFrom(r), payments.WithdrawalRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		PayoutMethodID: strings.TrimSpace(req.PayoutMethodID),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		code := writeServiceError(w, err)
		s.logEvent("withdrawal_create_failed", map[string]any{
			"reason":  code,
			"user_id": req.UserID,
			"amount":  req.Amount.String(),
			"error":   err.Error(),
		})
		return
	}

	s.logEvent("withdrawal_created", map[string]any{
		"user_id":       req.UserID,
		"withdrawal_id": res.WithdrawalID,
		"amount":        money.Format(res.Amount),
		"status":        string(res.Status),
	})
	writeJSON(w, http.StatusCreated, withdrawalResponse{
		WithdrawalID: res.WithdrawalID,
		Amount:       money.Format(res.Amount),
		Currency:     res.Currency,
		Status:       string(res.Status),
	})
}

func (s *Server) handleCreateTopup(w http.ResponseWriter, r *http.Request) {
	var req createTopupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.payments.Topup(r.Context(), actorFrom(r), payments.TopupRequest{
		CompanyID:       req.CompanyID,
		Amount:          req.Amount,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		code := writeServiceError(w, err)
		s.logEvent("topup_create_failed", map[string]any{
			"reason":     code,
			"company_id": req.CompanyID,
			"error":      err.Error(),
		})
		return
	}

	s.logEvent("topup_created", map[string]any{
		"company_id": req.CompanyID,
		"topup_id":   res.TopupID,
		"amount":     money.Format(res.Breakdown.Amount),
	})
	writeJSON(w, http.StatusCreated, topupResponse{
		TopupID:  res.TopupID,
		Amount:   money.Format(res.Breakdown.Amount),
		Fee:      money.Format(res.Breakdown.Fee),
		Credited: money.Format(res.Breakdown.Credited),
		Status:   string(res.Status),
	})
}
