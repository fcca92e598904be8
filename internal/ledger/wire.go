package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformed = errors.New("malformed ledger response")

// Wire shapes mirror the ledger's JSON. They are decoded loosely and then
// normalized by the to* functions below.

type wireAccount struct {
	ID              string         `json:"id"`
	ParentAccountID string         `json:"parent_account_id"`
	DisplayName     string         `json:"display_name"`
	Email           string         `json:"email"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       string         `json:"created_at"`
}

type wireMovement struct {
	ID                   string         `json:"id"`
	AccountID            string         `json:"account_id"`
	OriginAccountID      string         `json:"origin_account_id"`
	DestinationAccountID string         `json:"destination_account_id"`
	PayoutMethodID       string         `json:"payout_method_id"`
	PaymentMethodID      string         `json:"payment_method_id"`
	Amount               json.Number    `json:"amount"`
	Currency             string         `json:"currency"`
	Status               string         `json:"status"`
	FailureReason        string         `json:"failure_reason"`
	Metadata             map[string]any `json:"metadata"`
	CreatedAt            string         `json:"created_at"`
}

type wirePayoutMethod struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	Nickname  string `json:"nickname"`
	IsDefault bool   `json:"is_default"`
}

type wireLink struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type wireList[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"next_cursor"`
}

func toAccount(w wireAccount) (Account, error) {
	if strings.TrimSpace(w.ID) == "" {
		return Account{}, fmt.Errorf("%w: account without id", ErrMalformed)
	}
	return Account{
		ID:          w.ID,
		ParentID:    w.ParentAccountID,
		DisplayName: w.DisplayName,
		Email:       w.Email,
		Metadata:    normalizeMetadata(w.Metadata),
		CreatedAt:   parseTime(w.CreatedAt),
	}, nil
}

func toTransfer(w wireMovement) (Transfer, error) {
	amount, err := validateMovement(w, "transfer")
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{
		ID:                   w.ID,
		OriginAccountID:      w.OriginAccountID,
		DestinationAccountID: w.DestinationAccountID,
		AmountMinor:          amount,
		Currency:             normalizeCurrency(w.Currency),
		Status:               NormalizeStatus(w.Status),
		Metadata:             normalizeMetadata(w.Metadata),
		CreatedAt:            parseTime(w.CreatedAt),
	}, nil
}

func toWithdrawal(w wireMovement) (Withdrawal, error) {
	amount, err := validateMovement(w, "withdrawal")
	if err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{
		ID:             w.ID,
		AccountID:      w.AccountID,
		PayoutMethodID: w.PayoutMethodID,
		AmountMinor:    amount,
		Currency:       normalizeCurrency(w.Currency),
		Status:         NormalizeStatus(w.Status),
		FailureReason:  w.FailureReason,
		Metadata:       normalizeMetadata(w.Metadata),
		CreatedAt:      parseTime(w.CreatedAt),
	}, nil
}

func toTopup(w wireMovement) (Topup, error) {
	amount, err := validateMovement(w, "topup")
	if err != nil {
		return Topup{}, err
	}
	return Topup{
		ID:              w.ID,
		AccountID:       w.AccountID,
		PaymentMethodID: w.PaymentMethodID,
		AmountMinor:     amount,
		Currency:        normalizeCurrency(w.Currency),
		Status:          NormalizeStatus(w.Status),
		Metadata:        normalizeMetadata(w.Metadata),
		CreatedAt:       parseTime(w.CreatedAt),
	}, nil
}

func toPayoutMethod(w wirePayoutMethod) PayoutMethod {
	label := w.Label
	if label == "" {
		label = w.Nickname
	}
	return PayoutMethod{ID: w.ID, Type: w.Type, Label: label, IsDefault: w.IsDefault}
}

func validateMovement(w wireMovement, kind string) (int64, error) {
	if strings.TrimSpace(w.ID) == "" {
		return 0, fmt.Errorf("%w: %s without id", ErrMalformed, kind)
	}
	amount, err := parseMinor(w.Amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrMalformed, kind, w.ID, err)
	}
	return amount, nil
}

// parseMinor accepts only whole, non-negative minor-unit amounts.
func parseMinor(n json.Number) (int64, error) {
	if n == "" {
		return 0, errors.New("missing amount")
	}
	v, err := strconv.ParseInt(string(n), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not an integer number of minor units", n)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative amount %d", v)
	}
	return v, nil
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "USD"
	}
	return c
}

func normalizeMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

func metadataToWire(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
