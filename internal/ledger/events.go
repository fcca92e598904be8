package ledger

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType names a ledger webhook event.
type EventType string

const (
	EventPaymentSucceeded    EventType = "payment.succeeded"
	EventPaymentFailed       EventType = "payment.failed"
	EventTransferCompleted   EventType = "transfer.completed"
	EventTransferFailed      EventType = "transfer.failed"
	EventWithdrawalCompleted EventType = "withdrawal.completed"
	EventWithdrawalFailed    EventType = "withdrawal.failed"
	EventTopupCompleted      EventType = "topup.completed"
	EventTopupFailed         EventType = "topup.failed"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "X-Ledger-Signature"

var (
	ErrInvalidEvent     = errors.New("invalid ledger event")
	ErrInvalidSignature = errors.New("invalid ledger signature")
)

// Event is a normalized webhook delivery. Fields that do not apply to the
// event's object are left empty.
type Event struct {
	ID              string
	Type            EventType
	CreatedAt       time.Time
	ObjectID        string
	AmountMinor     int64
	HasAmount       bool
	Currency        string
	AccountID       string
	OriginAccountID string
	DestinationID   string
	PayoutMethodID  string
	PaymentMethodID string
	FailureReason   string
	Metadata        map[string]string
	Raw             json.RawMessage
}

type wireEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
	Metadata  map[string]any  `json:"metadata"`
}

// ParseEvent decodes and normalizes a webhook body. Envelope metadata and
// object metadata are merged, object keys winning.
func ParseEvent(body []byte) (Event, error) {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	ev := Event{
		ID:        strings.TrimSpace(w.ID),
		Type:      EventType(strings.ToLower(strings.TrimSpace(w.Type))),
		CreatedAt: parseTime(w.CreatedAt),
		Metadata:  normalizeMetadata(w.Metadata),
		Raw:       json.RawMessage(body),
	}

	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		var obj wireMovement
		dec := json.NewDecoder(bytes.NewReader(w.Data))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return Event{}, fmt.Errorf("%w: data: %v", ErrInvalidEvent, err)
		}
		ev.ObjectID = obj.ID
		ev.Currency = normalizeCurrency(obj.Currency)
		ev.AccountID = firstNonEmpty(obj.AccountID, obj.DestinationAccountID)
		ev.OriginAccountID = obj.OriginAccountID
		ev.DestinationID = obj.DestinationAccountID
		ev.PayoutMethodID = obj.PayoutMethodID
		ev.PaymentMethodID = obj.PaymentMethodID
		ev.FailureReason = obj.FailureReason
		if obj.Amount != "" {
			amount, err := parseMinor(obj.Amount)
			if err != nil {
				return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			}
			ev.AmountMinor = amount
			ev.HasAmount = true
		}
		for k, v := range normalizeMetadata(obj.Metadata) {
			ev.Metadata[k] = v
		}
	}

	if ev.ID == "" {
		// Deliveries without an id are deduplicated on type and object.
		ev.ID = string(ev.Type) + ":" + ev.ObjectID
	}
	return ev, nil
}

// Status is the terminal status the event type announces.
func (e Event) Status() Status {
	switch e.Type {
	case EventPaymentSucceeded, EventTransferCompleted, EventWithdrawalCompleted, EventTopupCompleted:
		return StatusCompleted
	case EventPaymentFailed, EventTransferFailed, EventWithdrawalFailed, EventTopupFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

func (e Event) requireObject() error {
	if e.ObjectID == "" {
		return fmt.Errorf("%w: %s without object id", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Transfer views a transfer.* event as the transfer it reports on.
func (e Event) Transfer() (Transfer, error) {
	if err := e.requireObject(); err != nil {
		return Transfer{}, err
	}
	return Transfer{
		ID:                   e.ObjectID,
		OriginAccountID:      e.OriginAccountID,
		DestinationAccountID: firstNonEmpty(e.DestinationID, e.AccountID),
		AmountMinor:          e.AmountMinor,
		AmountMissing:        !e.HasAmount,
		Currency:             e.Currency,
		Status:               e.Status(),
		Metadata:             e.Metadata,
		CreatedAt:            e.CreatedAt,
	}, nil
}

func (e Event) Withdrawal() (Withdrawal, error) {
	if err := e.requireObject(); err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{
		ID:             e.ObjectID,
		AccountID:      e.AccountID,
		PayoutMethodID: e.PayoutMethodID,
		AmountMinor:    e.AmountMinor,
		AmountMissing:  !e.HasAmount,
		Currency:       e.Currency,
		Status:         e.Status(),
		FailureReason:  e.FailureReason,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
	}, nil
}

func (e Event) Topup() (Topup, error) {
	if err := e.requireObject(); err != nil {
		return Topup{}, err
	}
	return Topup{
		ID:              e.ObjectID,
		AccountID:       e.AccountID,
		PaymentMethodID: e.PaymentMethodID,
		AmountMinor:     e.AmountMinor,
		AmountMissing:   !e.HasAmount,
		Currency:        e.Currency,
		Status:          e.Status(),
		Metadata:        e.Metadata,
		CreatedAt:       e.CreatedAt,
	}, nil
}

// Sign produces a SignatureHeader value for body at time ts.
func Sign(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeSignature(secret, t, body)
}

// VerifySignature checks header against body. Signatures older than tolerance
// are rejected to limit replay.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := computeSignature(secret, ts, body)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func computeSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
