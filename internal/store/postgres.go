package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLedgerExists reports that the insert-if-absent on the migration ledger
// lost the race: an entry for the email already exists. Callers re-read.
var ErrLedgerExists = errors.New("ledger entry already exists")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// NormalizeEmail lower-cases and trims an email address. Every email key in
// the users and migration_ledger tables goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = `id, email, display_name, role, clerk_id, supabase_id, invitation_token, invitation_expires_at, invited_by, last_clerk_login, deleted_at, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.Role,
		&user.ClerkID,
		&user.SupabaseID,
		&user.InvitationToken,
		&user.InvitationExpiresAt,
		&user.InvitedBy,
		&user.LastClerkLogin,
		&user.DeletedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email=$1 AND deleted_at IS NULL`,
		NormalizeEmail(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1 AND deleted_at IS NULL`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByInvitationToken(ctx context.Context, token string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE invitation_token=$1 AND deleted_at IS NULL`, token)
	return scanUser(row)
}

// CreateInvitedUser inserts a placeholder account shell for an admin invite.
// The clerk_id carries the invited_ prefix until the Invitation Linker
// replaces it with a real Clerk user id.
func (s *PostgresStore) CreateInvitedUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, clerk_id, invitation_token, invitation_expires_at, invited_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, NormalizeEmail(user.Email), user.DisplayName, user.Role, user.ClerkID, user.InvitationToken, user.InvitationExpiresAt, user.InvitedBy)
	if err != nil {
		return fmt.Errorf("insert invited user: %w", err)
	}
	return nil
}

// ExtendInvitation pushes an invitation expiry forward without regenerating
// the token. Used by admins to re-issue an expired invite.
func (s *PostgresStore) ExtendInvitation(ctx context.Context, userID string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET invitation_expires_at=$2, updated_at=NOW()
		WHERE id=$1 AND invitation_token IS NOT NULL
	`, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("extend invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend invitation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ActivateInvitedUser atomically swaps the invited_ placeholder for a real
// Clerk id and consumes the token. Zero rows affected means another request
// already activated the row.
func (s *PostgresStore) ActivateInvitedUser(ctx context.Context, userID, clerkID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET clerk_id=$2, invitation_token=NULL, invitation_expires_at=NULL, updated_at=NOW()
		WHERE id=$1 AND clerk_id LIKE $3
	`, userID, clerkID, InvitedPlaceholderPrefix+"%")
	if err != nil {
		return false, fmt.Errorf("activate invited user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate invited user rows: %w", err)
	}
	return affected > 0, nil
}

// UpsertUserIdentity makes sure a User row exists for the email and backfills
// its provider ids. Safe to call repeatedly from webhook and login paths.
// Soft-deleted rows are never revived: the conflict update skips them and
// the call surfaces sql.ErrNoRows.
func (s *PostgresStore) UpsertUserIdentity(ctx context.Context, email, displayName, clerkID, supabaseID string) (User, error) {
	normalized := NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, display_name, clerk_id, supabase_id)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (email) DO UPDATE SET
			clerk_id=COALESCE(NULLIF(EXCLUDED.clerk_id, ''), users.clerk_id),
			supabase_id=COALESCE(NULLIF(EXCLUDED.supabase_id, ''), users.supabase_id),
			updated_at=NOW()
		WHERE users.deleted_at IS NULL
		RETURNING `+userColumns,
		normalized, displayName, clerkID, supabaseID)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user identity: %w", err)
	}
	return user, nil
}

// TouchClerkLogin records a successful legacy-path login for observability.
func (s *PostgresStore) TouchClerkLogin(ctx context.Context, clerkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_clerk_login=NOW(), updated_at=NOW() WHERE clerk_id=$1
	`, clerkID)
	if err != nil {
		return fmt.Errorf("touch clerk login: %w", err)
	}
	return nil
}

const ledgerColumns = `email, clerk_id, supabase_id, migrated, migrated_at, deleted_at, created_at, updated_at`

func scanLedgerEntry(row *sql.Row) (MigrationLedgerEntry, error) {
	var entry MigrationLedgerEntry
	err := row.Scan(
		&entry.Email,
		&entry.ClerkID,
		&entry.SupabaseID,
		&entry.Migrated,
		&entry.MigratedAt,
		&entry.DeletedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return MigrationLedgerEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) GetLedgerEntry(ctx context.Context, email string) (MigrationLedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM migration_ledger WHERE email=$1 AND deleted_at IS NULL`,
		NormalizeEmail(email))
	return scanLedgerEntry(row)
}

// CreateLedgerShell is the insert-if-absent that dedupes concurrent shell
// provisioning. ON CONFLICT DO NOTHING plus RowsAffected is the only
// concurrency primitive the bridge relies on.
func (s *PostgresStore) CreateLedgerShell(ctx context.Context, email, clerkID, supabaseID string) (MigrationLedgerEntry, error) {
	normalized := NormalizeEmail(email)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO migration_ledger (email, clerk_id, supabase_id, migrated)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (email) DO NOTHING
	`, normalized, clerkID, supabaseID)
	if err != nil {
		return MigrationLedgerEntry{}, fmt.Errorf("insert ledger shell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return MigrationLedgerEntry{}, fmt.Errorf("insert ledger shell rows: %w", err)
	}
	if affected == 0 {
		return MigrationLedgerEntry{}, ErrLedgerExists
	}
	return s.GetLedgerEntry(ctx, normalized)
}

// MarkLedgerMigrated flips migrated to true. The WHERE clause makes it
// idempotent and there is no statement anywhere that sets migrated back to
// false, which is how the monotonicity invariant is enforced.
func (s *PostgresStore) MarkLedgerMigrated(ctx context.Context, email string) error {
	normalized := NormalizeEmail(email)
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM migration_ledger WHERE email=$1 AND deleted_at IS NULL)`, normalized).Scan(&exists); err != nil {
		return fmt.Errorf("check ledger entry: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE migration_ledger
		SET migrated=TRUE, migrated_at=NOW(), updated_at=NOW()
		WHERE email=$1 AND migrated=FALSE AND deleted_at IS NULL
	`, normalized)
	if err != nil {
		return fmt.Errorf("mark ledger migrated: %w", err)
	}
	return nil
}

// CompleteMigration marks the ledger entry migrated and backfills the
// supabase id onto the User row in one transaction, so no observer ever sees
// migrated=true without the User side of the invariant.
func (s *PostgresStore) CompleteMigration(ctx context.Context, email, supabaseID string) error {
	normalized := NormalizeEmail(email)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete migration: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM migration_ledger WHERE email=$1 AND deleted_at IS NULL)`, normalized).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("check ledger entry: %w", err)
	}
	if !exists {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE migration_ledger
		SET migrated=TRUE, migrated_at=NOW(), updated_at=NOW()
		WHERE email=$1 AND migrated=FALSE AND deleted_at IS NULL
	`, normalized); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mark ledger migrated: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET supabase_id=$2, updated_at=NOW() WHERE email=$1 AND deleted_at IS NULL
	`, normalized, supabaseID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("backfill supabase id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete migration: %w", err)
	}
	return nil
}

// SoftDeleteByClerkID soft-deletes the ledger entry and the User row for a
// deleted legacy account. Re-delivered webhooks hit the IS NULL guards and
// become no-ops.
func (s *PostgresStore) SoftDeleteByClerkID(ctx context.Context, clerkID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin soft delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE migration_ledger SET deleted_at=NOW(), updated_at=NOW()
		WHERE clerk_id=$1 AND deleted_at IS NULL
	`, clerkID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("soft delete ledger: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET deleted_at=NOW(), updated_at=NOW()
		WHERE clerk_id=$1 AND deleted_at IS NULL
	`, clerkID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("soft delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit soft delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deleted_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
