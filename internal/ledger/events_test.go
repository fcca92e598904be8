package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestParseTransferEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "transfer.completed",
		"created_at": "2026-03-01T10:00:00Z",
		"metadata": {"source": "platform", "job_id": "ignored"},
		"data": {
			"id": "tr_1",
			"origin_account_id": "acct_platform",
			"destination_account_id": "acct_creator",
			"amount": 9300,
			"currency": "usd",
			"metadata": {"job_id": "job-1"}
		}
	}`)

	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventTransferCompleted {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if ev.Metadata["job_id"] != "job-1" || ev.Metadata["source"] != "platform" {
		t.Errorf("metadata merge wrong: %v", ev.Metadata)
	}

	tr, err := ev.Transfer()
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tr.ID != "tr_1" || tr.AmountMinor != 9300 || tr.Status != StatusCompleted || tr.DestinationAccountID != "acct_creator" {
		t.Errorf("unexpected transfer: %+v", tr)
	}
}

func TestParseEventWithoutIDUsesObject(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"withdrawal.failed","data":{"id":"wd_9","amount":"1500","account_id":"acct_c","failure_reason":"bank closed"}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.ID != "withdrawal.failed:wd_9" {
		t.Errorf("ID = %q", ev.ID)
	}
	wd, err := ev.Withdrawal()
	if err != nil {
		t.Fatalf("Withdrawal: %v", err)
	}
	if wd.Status != StatusFailed || wd.AmountMinor != 1500 || wd.FailureReason != "bank closed" {
		t.Errorf("unexpected withdrawal: %+v", wd)
	}
}

func TestParseEventRejectsGarbage(t *testing.T) {
	for _, body := range []string{`not json`, `{"id":"evt"}`, `{"type":"transfer.completed","data":{"id":"tr","amount":1.5}}`} {
		if _, err := ParseEvent([]byte(body)); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("ParseEvent(%s) error = %v, want ErrInvalidEvent", body, err)
		}
	}
}

func TestUnknownEventTypeParses(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_2","type":"account.updated","data":{"id":"acct_1"}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Status() != StatusProcessing {
		t.Errorf("unknown type status = %s", ev.Status())
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"topup.completed"}`)
	now := time.Unix(1_800_000_000, 0)
	header := Sign("whsec", body, now)

	if err := VerifySignature("whsec", header, body, now.Add(time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := VerifySignature("other", header, body, now, 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong secret accepted: %v", err)
	}
	if err := VerifySignature("whsec", header, []byte(`{"tampered":true}`), now, 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body accepted: %v", err)
	}
	if err := VerifySignature("whsec", header, body, now.Add(time.Hour), 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("stale signature accepted: %v", err)
	}
	if err := VerifySignature("whsec", "garbage", body, now, 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("malformed header accepted: %v", err)
	}
}
