package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// Provisioner creates Supabase shell accounts for users who so far exist only
// in Clerk. It runs from the session.created webhook and from the login
// router; both paths may fire concurrently for the same user, so every step
// is repeatable and the ledger's insert-if-absent is the dedup point.
type Provisioner struct {
	legacy idp.LegacyProvider
	next   idp.NewProvider
	ledger *Ledger
	users  UserStore
}

func NewProvisioner(legacy idp.LegacyProvider, next idp.NewProvider, ledger *Ledger, users UserStore) *Provisioner {
	return &Provisioner{
		legacy: legacy,
		next:   next,
		ledger: ledger,
		users:  users,
	}
}

// EnsureShell resolves a Clerk user id to its ledger entry, creating the
// Supabase shell account and ledger record on first sight. It never touches
// the shell's credential once one exists: the user has not chosen a password
// in the new system, and only the router or completion service may set one.
func (p *Provisioner) EnsureShell(ctx context.Context, clerkUserID string) (store.MigrationLedgerEntry, error) {
	legacyUser, err := p.legacy.GetUser(ctx, clerkUserID)
	if err != nil {
		return store.MigrationLedgerEntry{}, fmt.Errorf("resolve legacy user: %w", err)
	}
	if legacyUser.Email == "" {
		return store.MigrationLedgerEntry{}, fmt.Errorf("legacy user %s has no email", clerkUserID)
	}

	entry, err := p.ledger.GetByEmail(ctx, legacyUser.Email)
	if err == nil {
		return p.refreshShell(ctx, legacyUser, entry)
	}
	if !errors.Is(err, ErrNotFound) {
		return store.MigrationLedgerEntry{}, err
	}

	// First sighting of this identity. The shell gets a random credential;
	// the user's real password is carried forward later, either transparently
	// at login or through the explicit completion flow.
	placeholder, err := randomCredential()
	if err != nil {
		return store.MigrationLedgerEntry{}, fmt.Errorf("generate placeholder credential: %w", err)
	}

	supabaseID, err := p.next.CreateAccount(ctx, legacyUser.Email, placeholder, shellMetadata(legacyUser, false), true)
	if errors.Is(err, idp.ErrEmailExists) {
		// Another delivery created the account between our ledger read and
		// now. Re-read and fall into the refresh branch.
		entry, err := p.ledger.GetByEmail(ctx, legacyUser.Email)
		if err != nil {
			return store.MigrationLedgerEntry{}, fmt.Errorf("re-read after provider conflict: %w", err)
		}
		return p.refreshShell(ctx, legacyUser, entry)
	}
	if err != nil {
		return store.MigrationLedgerEntry{}, err
	}

	entry, err = p.ledger.CreateShell(ctx, legacyUser.Email, legacyUser.ID, supabaseID)
	if errors.Is(err, ErrConflict) {
		// Lost the race on the ledger insert. The winner's entry is the
		// truth; our freshly created provider account is already deduped by
		// the provider's unique email constraint on their side.
		entry, err := p.ledger.GetByEmail(ctx, legacyUser.Email)
		if err != nil {
			return store.MigrationLedgerEntry{}, fmt.Errorf("re-read after ledger conflict: %w", err)
		}
		return p.refreshShell(ctx, legacyUser, entry)
	}
	if err != nil {
		return store.MigrationLedgerEntry{}, err
	}

	if _, err := p.users.UpsertUserIdentity(ctx, legacyUser.Email, legacyUser.DisplayName, legacyUser.ID, supabaseID); err != nil {
		return store.MigrationLedgerEntry{}, err
	}
	return entry, nil
}

// refreshShell handles an identity that already has a ledger entry: done if
// migrated, otherwise refresh the denormalized metadata on the shell.
func (p *Provisioner) refreshShell(ctx context.Context, legacyUser idp.LegacyUser, entry store.MigrationLedgerEntry) (store.MigrationLedgerEntry, error) {
	if entry.Migrated {
		return entry, nil
	}
	if err := p.next.UpdateMetadata(ctx, entry.SupabaseID, shellMetadata(legacyUser, false)); err != nil {
		return store.MigrationLedgerEntry{}, err
	}
	if _, err := p.users.UpsertUserIdentity(ctx, legacyUser.Email, legacyUser.DisplayName, legacyUser.ID, entry.SupabaseID); err != nil {
		return store.MigrationLedgerEntry{}, err
	}
	return entry, nil
}

func shellMetadata(legacyUser idp.LegacyUser, migrated bool) map[string]any {
	return map[string]any{
		"display_name": legacyUser.DisplayName,
		"clerk_id":     legacyUser.ID,
		"migrated":     migrated,
		"last_seen":    time.Now().UTC().Format(time.RFC3339),
	}
}

func randomCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
