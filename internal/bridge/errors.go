package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing ledger entry, user row, or token.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lost provisioning race; callers recover by
	// re-reading and never surface it to the end user.
	ErrConflict = errors.New("conflict")
	// ErrExpired reports an invitation token past its validity.
	ErrExpired = errors.New("expired")
	// ErrInvalidToken reports an invitation token that matches no account.
	ErrInvalidToken = errors.New("invalid token")
	// ErrAlreadyActivated reports an invited account that already has a real
	// legacy id bound to it.
	ErrAlreadyActivated = errors.New("already activated")
	// ErrInvalidCredentials reports that neither provider accepted the
	// supplied credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNeedsProviderSwitch reports a legacy account whose password cannot
	// be carried forward; the user must take the explicit reset path.
	ErrNeedsProviderSwitch = errors.New("needs provider switch")
)

// ValidationError names the password rule the input failed. Fully
// recoverable by the caller resubmitting.
type ValidationError struct {
	Rule string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Rule)
}
