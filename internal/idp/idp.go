// Package idp defines the contracts the migration bridge requires of the two
// identity providers. Implementations return identity facts and credential
// outcomes only; user linking and migration state live in the bridge.
package idp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserNotFound reports that no account exists for the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrBadCredentials reports that the account exists but the supplied
	// password was rejected.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrPasswordAuthDisabled reports a legacy account without a password
	// (social login only); its credential cannot be carried forward.
	ErrPasswordAuthDisabled = errors.New("password authentication disabled")
	// ErrEmailExists reports that the new provider already holds an account
	// for the email. Provisioning treats this like a lost race.
	ErrEmailExists = errors.New("email already registered")
)

// ProviderError wraps a transport or API failure from either provider.
// Callers treat it as retryable and never as a terminal state change.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// LegacyUser is the identity record resolved from the legacy provider.
type LegacyUser struct {
	ID              string
	Email           string
	DisplayName     string
	PasswordEnabled bool
}

// LegacyProvider is the read-mostly contract against the provider users are
// migrating away from.
type LegacyProvider interface {
	GetUser(ctx context.Context, userID string) (LegacyUser, error)
	GetUserByEmail(ctx context.Context, email string) (LegacyUser, error)
	// VerifyPassword returns nil on success, ErrBadCredentials on a wrong
	// password and ErrPasswordAuthDisabled for social-only accounts.
	VerifyPassword(ctx context.Context, userID, password string) error
	RevokeAllSessions(ctx context.Context, userID string) error
}

// Session is an authenticated session at the new provider.
type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// NewProvider is the contract against the provider all accounts move to.
type NewProvider interface {
	// CreateAccount provisions an account and returns its id. emailConfirmed
	// is set when the legacy provider already verified the address.
	CreateAccount(ctx context.Context, email, password string, metadata map[string]any, emailConfirmed bool) (string, error)
	UpdateCredential(ctx context.Context, userID, password string) error
	UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error
	// Authenticate returns ErrUserNotFound when no account exists for the
	// email and ErrBadCredentials when the password is wrong.
	Authenticate(ctx context.Context, email, password string) (Session, error)
}
