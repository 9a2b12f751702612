package relay

import (
	"errors"
	"fmt"

	"anonrelay/internal/membership"
	"anonrelay/internal/store"
)

var (
	// ErrValidation is the parent of every input rejection.
	ErrValidation        = errors.New("validation failed")
	ErrInvalidPassphrase = fmt.Errorf("%w: passphrase must be six words", ErrValidation)
	ErrMessageTooLong    = fmt.Errorf("%w: message too long", ErrValidation)
	ErrEmptyMessage      = fmt.Errorf("%w: message is empty", ErrValidation)

	// ErrNotFound never says whether a session expired or never existed.
	ErrNotFound      = store.ErrNotFound
	ErrSessionFull   = membership.ErrSessionFull
	ErrLimitExceeded = errors.New("active session limit reached")
	ErrNotInSession  = errors.New("not in a chat session")
	ErrForbidden     = errors.New("admin access required")
	ErrStorage       = errors.New("storage failure")
)

// storageErr tags unexpected store failures with ErrStorage and lets the
// store's own sentinels through unchanged.
func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
