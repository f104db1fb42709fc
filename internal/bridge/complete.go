package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// Identifier names the account finishing migration: a Clerk user id from the
// session-based flow, or a bare email from the reset-email flow. Both resolve
// to the same ledger entry.
type Identifier struct {
	ClerkUserID string
	Email       string
}

// CompleteResult reports whether this call did the work or an earlier one
// already had.
type CompleteResult struct {
	Email           string
	AlreadyMigrated bool
}

// Completion finalizes a migration: the user supplies their new password and
// the ledger entry is atomically marked migrated.
type Completion struct {
	legacy idp.LegacyProvider
	next   idp.NewProvider
	ledger *Ledger
	store  LedgerStore
}

func NewCompletion(legacy idp.LegacyProvider, next idp.NewProvider, ledger *Ledger, store LedgerStore) *Completion {
	return &Completion{
		legacy: legacy,
		next:   next,
		ledger: ledger,
		store:  store,
	}
}

// Complete validates the new password, writes it to the Supabase account and
// marks the ledger migrated in one transaction together with the User-row
// backfill. Re-running completion for an already migrated account succeeds
// without rewriting the credential. A provider-side credential failure leaves
// the ledger untouched: migration is never marked complete unless every
// downstream write went through.
func (c *Completion) Complete(ctx context.Context, ident Identifier, newPassword string) (CompleteResult, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return CompleteResult{}, err
	}

	email := store.NormalizeEmail(ident.Email)
	if ident.ClerkUserID != "" {
		legacyUser, err := c.legacy.GetUser(ctx, ident.ClerkUserID)
		if errors.Is(err, idp.ErrUserNotFound) {
			return CompleteResult{}, ErrNotFound
		}
		if err != nil {
			return CompleteResult{}, err
		}
		email = store.NormalizeEmail(legacyUser.Email)
	}
	if email == "" {
		return CompleteResult{}, &ValidationError{Rule: "an email or legacy user id is required"}
	}

	entry, err := c.ledger.GetByEmail(ctx, email)
	if err != nil {
		return CompleteResult{}, err
	}

	if entry.Migrated {
		return CompleteResult{Email: email, AlreadyMigrated: true}, nil
	}

	if err := c.next.UpdateCredential(ctx, entry.SupabaseID, newPassword); err != nil {
		return CompleteResult{}, err
	}
	if err := c.next.UpdateMetadata(ctx, entry.SupabaseID, map[string]any{
		"clerk_id": entry.ClerkID,
		"migrated": true,
	}); err != nil {
		return CompleteResult{}, err
	}

	if err := c.store.CompleteMigration(ctx, email, entry.SupabaseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompleteResult{}, ErrNotFound
		}
		return CompleteResult{}, fmt.Errorf("finalize migration for %s: %w", email, err)
	}

	// The legacy sessions are dead weight once the new credential is live.
	// Best effort: a revocation failure does not unwind the migration.
	if err := c.legacy.RevokeAllSessions(ctx, entry.ClerkID); err != nil {
		log.Printf("bridge: revoke legacy sessions for %s: %v", entry.ClerkID, err)
	}

	return CompleteResult{Email: email}, nil
}
