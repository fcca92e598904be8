package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"creatorlink.payments/internal/payments"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	NeedsSetup bool   `json:"needs_setup,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, payments.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, payments.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, payments.ErrPrecheckFailed):
		return http.StatusConflict, "precheck_failed"
	case errors.Is(err, payments.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError writes err and returns the error code used, for logging.
func writeServiceError(w http.ResponseWriter, err error) string {
	status, code := statusFor(err)
	resp := errorResponse{Error: code}
	if pe, ok := payments.AsError(err); ok && status != http.StatusInternalServerError {
		resp.Reason = pe.Reason
		resp.NeedsSetup = pe.NeedsSetup
	}
	writeJSON(w, status, resp)
	return code
}
