package store

import "time"

// InvitedPlaceholderPrefix marks a User row provisioned by an admin invite
// before any identity-provider account exists for it.
const InvitedPlaceholderPrefix = "invited_"

type User struct {
	ID                  string
	Email               string
	DisplayName         string
	Role                string
	ClerkID             *string
	SupabaseID          *string
	InvitationToken     *string
	InvitationExpiresAt *time.Time
	InvitedBy           *string
	LastClerkLogin      *time.Time
	DeletedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MigrationLedgerEntry is the per-email source of truth for whether an
// identity has moved from Clerk to Supabase. Exactly one entry per email.
type MigrationLedgerEntry struct {
	Email      string
	ClerkID    string
	SupabaseID string
	Migrated   bool
	MigratedAt *time.Time
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
