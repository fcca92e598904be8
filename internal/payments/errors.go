package payments

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrPrecheckFailed  = errors.New("precheck failed")
	ErrUpstream        = errors.New("upstream error")
)

const (
	ReasonCreatorNotPayable  = "creator not payable"
	ReasonJobNotApproved     = "job not approved"
	ReasonAlreadyPaid        = "already paid"
	ReasonNeedsSetup         = "needs setup"
	ReasonBelowMinimum       = "below minimum"
	ReasonPaymentInProgress  = "payment in progress"
	ReasonAlreadyConfigured  = "payment account already configured"
	ReasonConfigureFirst     = "configure your payment account first"
	ReasonLedgerUnavailable  = "payments provider unavailable"
	ReasonDataStoreFailure   = "data store unavailable"
	ReasonTransferRejected   = "transfer rejected by payments provider"
	ReasonWithdrawalRejected = "withdrawal rejected by payments provider"
)

// Error is returned by every Service operation that fails. Reason is safe to
// show to the caller; Err carries the underlying cause for logs.
type Error struct {
	Kind       error
	Reason     string
	NeedsSetup bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(reason string) error {
	return &Error{Kind: ErrValidation, Reason: reason}
}

func forbidden(reason string) error {
	return &Error{Kind: ErrForbidden, Reason: reason}
}

func notFound(reason string) error {
	return &Error{Kind: ErrNotFound, Reason: reason}
}

func precheck(reason string) error {
	return &Error{Kind: ErrPrecheckFailed, Reason: reason}
}

func needsSetup(reason string) error {
	return &Error{Kind: ErrPrecheckFailed, Reason: reason, NeedsSetup: true}
}

func upstream(reason string, err error) error {
	return &Error{Kind: ErrUpstream, Reason: reason, Err: err}
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
