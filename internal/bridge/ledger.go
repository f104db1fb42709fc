// Package bridge implements the migration path that moves accounts from the
// legacy identity provider (Clerk) to the new one (Supabase) without a
// cutover, a mass password reset, or a state in which a user cannot log in.
//
// The migration ledger is the single source of truth for "has this identity
// moved". All coordination between concurrent webhook deliveries and logins
// happens through its insert-if-absent and conditional-update operations;
// nothing in this package holds in-process mutable state.
package bridge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// LedgerStore is the storage contract for migration bookkeeping.
type LedgerStore interface {
	GetLedgerEntry(ctx context.Context, email string) (store.MigrationLedgerEntry, error)
	CreateLedgerShell(ctx context.Context, email, clerkID, supabaseID string) (store.MigrationLedgerEntry, error)
	MarkLedgerMigrated(ctx context.Context, email string) error
	CompleteMigration(ctx context.Context, email, supabaseID string) error
	SoftDeleteByClerkID(ctx context.Context, clerkID string) error
}

// UserStore is the storage contract for the primary user table.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByInvitationToken(ctx context.Context, token string) (store.User, error)
	CreateInvitedUser(ctx context.Context, user store.User) error
	ExtendInvitation(ctx context.Context, userID string, expiresAt time.Time) error
	ActivateInvitedUser(ctx context.Context, userID, clerkID string) (bool, error)
	UpsertUserIdentity(ctx context.Context, email, displayName, clerkID, supabaseID string) (store.User, error)
	TouchClerkLogin(ctx context.Context, clerkID string) error
}

// Ledger wraps the durable migration record behind the three operations the
// rest of the bridge is allowed to use. Once an entry reads migrated=true no
// operation here (or in the store beneath) can clear it.
type Ledger struct {
	store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// GetByEmail returns the entry for the normalized email, or ErrNotFound.
func (l *Ledger) GetByEmail(ctx context.Context, email string) (store.MigrationLedgerEntry, error) {
	entry, err := l.store.GetLedgerEntry(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MigrationLedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return store.MigrationLedgerEntry{}, err
	}
	return entry, nil
}

// CreateShell records a freshly provisioned Supabase shell. ErrConflict means
// another request provisioned the email first; callers re-read and continue.
func (l *Ledger) CreateShell(ctx context.Context, email, clerkID, supabaseID string) (store.MigrationLedgerEntry, error) {
	entry, err := l.store.CreateLedgerShell(ctx, email, clerkID, supabaseID)
	if errors.Is(err, store.ErrLedgerExists) {
		return store.MigrationLedgerEntry{}, ErrConflict
	}
	if err != nil {
		return store.MigrationLedgerEntry{}, err
	}
	return entry, nil
}

// MarkMigrated flips the migrated flag. Idempotent: marking an already
// migrated entry succeeds silently. ErrNotFound when no entry exists.
func (l *Ledger) MarkMigrated(ctx context.Context, email string) error {
	err := l.store.MarkLedgerMigrated(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// SoftDelete tombstones the entry for a deleted legacy account. Deleting an
// already deleted entry is a no-op success.
func (l *Ledger) SoftDelete(ctx context.Context, clerkID string) error {
	return l.store.SoftDeleteByClerkID(ctx, clerkID)
}
