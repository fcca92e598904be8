package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the ledger.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger: %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks to the ledger's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type createAccountRequest struct {
	ParentAccountID string         `json:"parent_account_id"`
	DisplayName     string         `json:"display_name,omitempty"`
	Email           string         `json:"email,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type movementRequest struct {
	AccountID            string         `json:"account_id,omitempty"`
	OriginAccountID      string         `json:"origin_account_id,omitempty"`
	DestinationAccountID string         `json:"destination_account_id,omitempty"`
	PayoutMethodID       string         `json:"payout_method_id,omitempty"`
	PaymentMethodID      string         `json:"payment_method_id,omitempty"`
	Amount               int64          `json:"amount"`
	Currency             string         `json:"currency"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

type accountLinkRequest struct {
	AccountID  string `json:"account_id"`
	Kind       string `json:"kind"`
	ReturnURL  string `json:"return_url,omitempty"`
	RefreshURL string `json:"refresh_url,omitempty"`
}

type accessTokenRequest struct {
	AccountID string `json:"account_id"`
}

func (c *HTTPClient) CreateAccount(ctx context.Context, p CreateAccountParams) (Account, error) {
	var out wireAccount
	err := c.do(ctx, "create_account", http.MethodPost, "/v1/accounts", p.IdempotencyKey, createAccountRequest{
		ParentAccountID: p.ParentAccountID,
		DisplayName:     p.DisplayName,
		Email:           p.Email,
		Metadata:        metadataToWire(p.Metadata),
	}, &out)
	if err != nil {
		return Account{}, err
	}
	return toAccount(out)
}

func (c *HTTPClient) CreateTransfer(ctx context.Context, p TransferParams) (Transfer, error) {
	if p.AmountMinor <= 0 {
		return Transfer{}, errors.New("ledger: transfer amount must be positive")
	}
	var out wireMovement
	err := c.do(ctx, "create_transfer", http.MethodPost, "/v1/transfers", p.IdempotencyKey, movementRequest{
		OriginAccountID:      p.OriginAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.AmountMinor,
		Currency:             p.Currency,
		Metadata:             metadataToWire(p.Metadata),
	}, &out)
	if err != nil {
		return Transfer{}, err
	}
	return toTransfer(out)
}

func (c *HTTPClient) ListTransfers(ctx context.Context, p ListParams) ([]Transfer, error) {
	rows, err := listAll[wireMovement](ctx, c, "list_transfers", "/v1/transfers", p)
	if err != nil {
		return nil, err
	}
	out := make([]Transfer, 0, len(rows))
	for _, w := range rows {
		t, err := toTransfer(w)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *HTTPClient) CreateWithdrawal(ctx context.Context, p WithdrawalParams) (Withdrawal, error) {
	if p.AmountMinor <= 0 {
		return Withdrawal{}, errors.New("ledger: withdrawal amount must be positive")
	}
	var out wireMovement
	err := c.do(ctx, "create_withdrawal", http.MethodPost, "/v1/withdrawals", p.IdempotencyKey, movementRequest{
		AccountID:      p.AccountID,
		PayoutMethodID: p.PayoutMethodID,
		Amount:         p.AmountMinor,
		Currency:       p.Currency,
		Metadata:       metadataToWire(p.Metadata),
	}, &out)
	if err != nil {
		return Withdrawal{}, err
	}
	return toWithdrawal(out)
}

func (c *HTTPClient) ListWithdrawals(ctx context.Context, p ListParams) ([]Withdrawal, error) {
	rows, err := listAll[wireMovement](ctx, c, "list_withdrawals", "/v1/withdrawals", p)
	if err != nil {
		return nil, err
	}
	out := make([]Withdrawal, 0, len(rows))
	for _, w := range rows {
		wd, err := toWithdrawal(w)
		if err != nil {
			return nil, err
		}
		out = append(out, wd)
	}
	return out, nil
}

func (c *HTTPClient) CreateTopup(ctx context.Context, p TopupParams) (Topup, error) {
	if p.AmountMinor <= 0 {
		return Topup{}, errors.New("ledger: topup amount must be positive")
	}
	var out wireMovement
	err := c.do(ctx, "create_topup", http.MethodPost, "/v1/topups", p.IdempotencyKey, movementRequest{
		AccountID:       p.AccountID,
		PaymentMethodID: p.PaymentMethodID,
		Amount:          p.AmountMinor,
		Currency:        p.Currency,
		Metadata:        metadataToWire(p.Metadata),
	}, &out)
	if err != nil {
		return Topup{}, err
	}
	return toTopup(out)
}

func (c *HTTPClient) ListPayoutMethods(ctx context.Context, accountID string) ([]PayoutMethod, error) {
	var out wireList[wirePayoutMethod]
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/payout_methods"
	if err := c.do(ctx, "list_payout_methods", http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	methods := make([]PayoutMethod, 0, len(out.Data))
	for _, m := range out.Data {
		if m.ID == "" {
			continue
		}
		methods = append(methods, toPayoutMethod(m))
	}
	return methods, nil
}

func (c *HTTPClient) CreateAccountLink(ctx context.Context, p AccountLinkParams) (AccountLink, error) {
	var out wireLink
	err := c.do(ctx, "create_account_link", http.MethodPost, "/v1/account_links", "", accountLinkRequest{
		AccountID:  p.AccountID,
		Kind:       string(p.Kind),
		ReturnURL:  p.ReturnURL,
		RefreshURL: p.RefreshURL,
	}, &out)
	if err != nil {
		return AccountLink{}, err
	}
	if out.URL == "" {
		return AccountLink{}, fmt.Errorf("%w: account link without url", ErrMalformed)
	}
	return AccountLink{URL: out.URL, ExpiresAt: parseTime(out.ExpiresAt)}, nil
}

func (c *HTTPClient) CreateAccessToken(ctx context.Context, accountID string) (AccessToken, error) {
	var out wireLink
	err := c.do(ctx, "create_access_token", http.MethodPost, "/v1/access_tokens", "", accessTokenRequest{AccountID: accountID}, &out)
	if err != nil {
		return AccessToken{}, err
	}
	if out.Token == "" {
		return AccessToken{}, fmt.Errorf("%w: access token missing", ErrMalformed)
	}
	return AccessToken{Token: out.Token, ExpiresAt: parseTime(out.ExpiresAt)}, nil
}

// listAll follows next_cursor until the ledger reports no more pages or the
// requested limit is reached.
func listAll[T any](ctx context.Context, c *HTTPClient, op, path string, p ListParams) ([]T, error) {
	var all []T
	cursor := ""
	for {
		q := url.Values{}
		if p.AccountID != "" {
			q.Set("account_id", p.AccountID)
		}
		if !p.CreatedAfter.IsZero() {
			q.Set("created_after", p.CreatedAfter.UTC().Format(time.RFC3339))
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		q.Set("limit", "100")

		var page wireList[T]
		if err := c.do(ctx, op, http.MethodGet, path+"?"+q.Encode(), "", nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if p.Limit > 0 && len(all) >= p.Limit {
			return all[:p.Limit], nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		requestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ledger: encode %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ledger: build %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger: read %s: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			if eb.Error.Message != "" {
				apiErr.Code = eb.Error.Code
				apiErr.Message = eb.Error.Message
			} else if eb.Message != "" {
				apiErr.Message = eb.Message
			}
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	return nil
}
