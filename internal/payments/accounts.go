package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/store"
)

type AccountResult struct {
	LedgerAccountID string
	// AlreadyConfigured is set when the profile was linked before this call
	// and no ledger account was created.
	AlreadyConfigured bool
}

// EnsureAccount returns the user's ledger account, creating it under the
// platform account the first time.
func (s *Service) EnsureAccount(ctx context.Context, actor Actor, userID, role string) (AccountResult, error) {
	if userID == "" {
		return AccountResult{}, validationError("user id is required")
	}
	if role != store.RoleCreator && role != store.RoleCompany {
		return AccountResult{}, validationError("role must be creator or company")
	}
	if err := authorize(actor, userID); err != nil {
		return AccountResult{}, err
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return AccountResult{}, err
	}
	if profile.LedgerAccountID != "" {
		return AccountResult{LedgerAccountID: profile.LedgerAccountID, AlreadyConfigured: true}, nil
	}

	// The key is stable per user so a retry after a failed link below gets
	// the same ledger account back instead of a second one.
	acct, err := s.ledger.CreateAccount(ctx, ledger.CreateAccountParams{
		ParentAccountID: s.cfg.PlatformAccountID,
		DisplayName:     displayName(profile),
		Email:           profile.Email,
		IdempotencyKey:  "account-" + userID,
		Metadata: map[string]string{
			"platform_user_id": userID,
			"role":             role,
		},
	})
	if err != nil {
		return AccountResult{}, upstream(ReasonLedgerUnavailable, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id":           userID,
		"ledger_account_id": acct.ID,
	})

	if err := s.store.LinkLedgerAccount(ctx, userID, acct.ID); err != nil {
		if errors.Is(err, store.ErrLedgerAccountLinked) {
			current, lerr := s.loadProfile(ctx, userID)
			if lerr == nil && current.LedgerAccountID != "" {
				log.WithField("linked_account_id", current.LedgerAccountID).Warn("profile linked concurrently; keeping existing ledger account")
				return AccountResult{LedgerAccountID: current.LedgerAccountID, AlreadyConfigured: true}, nil
			}
		}
		log.WithError(err).Error("ledger account created but profile link not saved")
		return AccountResult{LedgerAccountID: acct.ID}, nil
	}

	log.Info("ledger account provisioned")
	return AccountResult{LedgerAccountID: acct.ID}, nil
}

// IdentityVerificationLink returns a hosted onboarding page for the user's
// ledger account.
func (s *Service) IdentityVerificationLink(ctx context.Context, actor Actor, userID string) (ledger.AccountLink, error) {
	return s.hostedLink(ctx, actor, userID, ledger.LinkOnboarding, "/settings/payments/verify")
}

// PayoutMethodLink returns a hosted page for managing payout methods.
func (s *Service) PayoutMethodLink(ctx context.Context, actor Actor, userID string) (ledger.AccountLink, error) {
	return s.hostedLink(ctx, actor, userID, ledger.LinkPayoutMethods, "/settings/payments/methods")
}

func (s *Service) hostedLink(ctx context.Context, actor Actor, userID string, kind ledger.LinkKind, page string) (ledger.AccountLink, error) {
	profile, err := s.linkedProfile(ctx, actor, userID)
	if err != nil {
		// Link creation has nothing to hand the ledger without an account.
		var pe *Error
		if errors.As(err, &pe) && pe.NeedsSetup {
			return ledger.AccountLink{}, &Error{Kind: ErrUpstream, Reason: "ledger account id missing", NeedsSetup: true}
		}
		return ledger.AccountLink{}, err
	}

	link, err := s.ledger.CreateAccountLink(ctx, ledger.AccountLinkParams{
		AccountID:  profile.LedgerAccountID,
		Kind:       kind,
		ReturnURL:  s.callbackURL(page, "complete"),
		RefreshURL: s.callbackURL(page, "refresh"),
	})
	if err != nil {
		return ledger.AccountLink{}, upstream(ReasonLedgerUnavailable, err)
	}
	return link, nil
}

func (s *Service) callbackURL(page, state string) string {
	return strings.TrimRight(s.cfg.AppURL, "/") + page + "?state=" + state
}

func displayName(p store.Profile) string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return p.ID
}
