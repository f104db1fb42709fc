package bridge

import (
	"strings"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// AccountStage is the migration position of a user account, computed once at
// read time instead of re-inferring it from id string patterns.
type AccountStage string

const (
	// StageInvited: admin-provisioned shell, no identity-provider account.
	StageInvited AccountStage = "invited"
	// StageLegacyOnly: authenticates with Clerk, no Supabase shell yet.
	StageLegacyOnly AccountStage = "legacy_only"
	// StageBridged: Supabase shell exists but the user has not set a
	// credential there.
	StageBridged AccountStage = "bridged"
	// StageMigrated: migration complete, Clerk no longer authoritative.
	StageMigrated AccountStage = "migrated"
)

// StageOf derives the account stage from the User row and its ledger entry.
// entry may be nil when no ledger record exists yet.
func StageOf(user store.User, entry *store.MigrationLedgerEntry) AccountStage {
	if user.ClerkID != nil && strings.HasPrefix(*user.ClerkID, store.InvitedPlaceholderPrefix) {
		return StageInvited
	}
	if entry == nil {
		return StageLegacyOnly
	}
	if entry.Migrated {
		return StageMigrated
	}
	return StageBridged
}
