package payments

import (
	"context"
)

// Session is what the payout UI needs to mount. NeedsSetup means the user
// has no ledger account yet and should be sent to onboarding.
type Session struct {
	LedgerAccountID string
	NeedsSetup      bool
}

// ResolveSession never creates an account; see EnsureAccount.
func (s *Service) ResolveSession(ctx context.Context, actor Actor, userID string) (Session, error) {
	if userID == "" {
		return Session{}, validationError("user id is required")
	}
	if err := authorize(actor, userID); err != nil {
		return Session{}, err
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if profile.LedgerAccountID == "" {
		return Session{NeedsSetup: true}, nil
	}
	return Session{LedgerAccountID: profile.LedgerAccountID}, nil
}
