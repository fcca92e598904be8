package store

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrLedgerAccountLinked = errors.New("ledger account already linked")
)
