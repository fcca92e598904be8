package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyIssuedToken(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(Identity{UserID: "creator-1", Role: "creator"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "creator-1" || id.Role != "creator" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret")
	other, _ := NewVerifier("other").Issue(Identity{UserID: "u"}, time.Hour)
	expired, _ := v.Issue(Identity{UserID: "u"}, -time.Minute)
	noSubject, _ := v.Issue(Identity{Role: "admin"}, time.Hour)

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"wrong key":  other,
		"expired":    expired,
		"no subject": noSubject,
	}
	for name, token := range cases {
		if _, err := v.Verify(token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context has identity")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "u", Role: "admin"})
	id, ok := FromContext(ctx)
	if !ok || id.UserID != "u" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}
