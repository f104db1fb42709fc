package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// memStore backs the bridge and service storage contracts with maps so the
// HTTP tests run against the full wiring without Postgres.
type memStore struct {
	mu      sync.Mutex
	users   map[string]store.User
	ledger  map[string]store.MigrationLedgerEntry
	revoked map[string]bool
	userSeq int
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]store.User),
		ledger:  make(map[string]store.MigrationLedgerEntry),
		revoked: make(map[string]bool),
	}
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == store.NormalizeEmail(email) && u.DeletedAt == nil {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.DeletedAt != nil {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) GetUserByInvitationToken(ctx context.Context, token string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.InvitationToken != nil && *u.InvitationToken == token && u.DeletedAt == nil {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateInvitedUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = store.NormalizeEmail(user.Email)
	m.users[user.ID] = user
	return nil
}

func (m *memStore) ExtendInvitation(ctx context.Context, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.InvitationToken == nil {
		return sql.ErrNoRows
	}
	u.InvitationExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *memStore) ActivateInvitedUser(ctx context.Context, userID, clerkID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ClerkID == nil || !strings.HasPrefix(*u.ClerkID, store.InvitedPlaceholderPrefix) {
		return false, nil
	}
	u.ClerkID = &clerkID
	u.InvitationToken = nil
	u.InvitationExpiresAt = nil
	m.users[userID] = u
	return true, nil
}

func (m *memStore) UpsertUserIdentity(ctx context.Context, email, displayName, clerkID, supabaseID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	for id, u := range m.users {
		if u.Email == normalized {
			if u.DeletedAt != nil {
				return store.User{}, sql.ErrNoRows
			}
			if clerkID != "" {
				u.ClerkID = &clerkID
			}
			if supabaseID != "" {
				u.SupabaseID = &supabaseID
			}
			m.users[id] = u
			return u, nil
		}
	}
	m.userSeq++
	u := store.User{
		ID:          fmt.Sprintf("usr_%d", m.userSeq),
		Email:       normalized,
		DisplayName: displayName,
		Role:        "user",
	}
	if clerkID != "" {
		u.ClerkID = &clerkID
	}
	if supabaseID != "" {
		u.SupabaseID = &supabaseID
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) TouchClerkLogin(ctx context.Context, clerkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, u := range m.users {
		if u.ClerkID != nil && *u.ClerkID == clerkID {
			u.LastClerkLogin = &now
			m.users[id] = u
		}
	}
	return nil
}

func (m *memStore) GetLedgerEntry(ctx context.Context, email string) (store.MigrationLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[store.NormalizeEmail(email)]
	if !ok || entry.DeletedAt != nil {
		return store.MigrationLedgerEntry{}, sql.ErrNoRows
	}
	return entry, nil
}

func (m *memStore) CreateLedgerShell(ctx context.Context, email, clerkID, supabaseID string) (store.MigrationLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	if _, ok := m.ledger[normalized]; ok {
		return store.MigrationLedgerEntry{}, store.ErrLedgerExists
	}
	entry := store.MigrationLedgerEntry{Email: normalized, ClerkID: clerkID, SupabaseID: supabaseID}
	m.ledger[normalized] = entry
	return entry, nil
}

func (m *memStore) MarkLedgerMigrated(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	entry, ok := m.ledger[normalized]
	if !ok || entry.DeletedAt != nil {
		return sql.ErrNoRows
	}
	if !entry.Migrated {
		now := time.Now()
		entry.Migrated = true
		entry.MigratedAt = &now
		m.ledger[normalized] = entry
	}
	return nil
}

func (m *memStore) CompleteMigration(ctx context.Context, email, supabaseID string) error {
	if err := m.MarkLedgerMigrated(ctx, email); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	for id, u := range m.users {
		if u.Email == normalized && u.DeletedAt == nil {
			u.SupabaseID = &supabaseID
			m.users[id] = u
		}
	}
	return nil
}

func (m *memStore) SoftDeleteByClerkID(ctx context.Context, clerkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for email, entry := range m.ledger {
		if entry.ClerkID == clerkID && entry.DeletedAt == nil {
			entry.DeletedAt = &now
			m.ledger[email] = entry
		}
	}
	for id, u := range m.users {
		if u.ClerkID != nil && *u.ClerkID == clerkID && u.DeletedAt == nil {
			u.DeletedAt = &now
			m.users[id] = u
		}
	}
	return nil
}

func (m *memStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) addUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = store.NormalizeEmail(u.Email)
	m.users[u.ID] = u
}

func (m *memStore) ledgerEntry(email string) (store.MigrationLedgerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[store.NormalizeEmail(email)]
	return entry, ok
}

// memLegacy is an in-memory stand-in for the Clerk client.
type memLegacy struct {
	mu        sync.Mutex
	users     map[string]idp.LegacyUser
	passwords map[string]string
}

func newMemLegacy() *memLegacy {
	return &memLegacy{users: make(map[string]idp.LegacyUser), passwords: make(map[string]string)}
}

func (m *memLegacy) addUser(u idp.LegacyUser, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.passwords[u.ID] = password
}

func (m *memLegacy) GetUser(ctx context.Context, userID string) (idp.LegacyUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return idp.LegacyUser{}, idp.ErrUserNotFound
	}
	return u, nil
}

func (m *memLegacy) GetUserByEmail(ctx context.Context, email string) (idp.LegacyUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return idp.LegacyUser{}, idp.ErrUserNotFound
}

func (m *memLegacy) VerifyPassword(ctx context.Context, userID, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.passwords[userID]; !ok || stored == "" {
		return idp.ErrPasswordAuthDisabled
	} else if stored != password {
		return idp.ErrBadCredentials
	}
	return nil
}

func (m *memLegacy) RevokeAllSessions(ctx context.Context, userID string) error { return nil }

// memNext is an in-memory stand-in for the GoTrue admin client.
type memNext struct {
	mu       sync.Mutex
	accounts map[string]*memNextAccount
	seq      int
}

type memNextAccount struct {
	id       string
	password string
}

func newMemNext() *memNext {
	return &memNext{accounts: make(map[string]*memNextAccount)}
}

func (m *memNext) CreateAccount(ctx context.Context, email, password string, metadata map[string]any, emailConfirmed bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[email]; ok {
		return "", idp.ErrEmailExists
	}
	m.seq++
	acct := &memNextAccount{id: fmt.Sprintf("sb_%d", m.seq), password: password}
	m.accounts[email] = acct
	return acct.id, nil
}

func (m *memNext) UpdateCredential(ctx context.Context, userID, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.id == userID {
			acct.password = password
			return nil
		}
	}
	return idp.ErrUserNotFound
}

func (m *memNext) UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.id == userID {
			return nil
		}
	}
	return idp.ErrUserNotFound
}

func (m *memNext) Authenticate(ctx context.Context, email, password string) (idp.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[email]
	if !ok {
		return idp.Session{}, idp.ErrUserNotFound
	}
	if acct.password != password {
		return idp.Session{}, idp.ErrBadCredentials
	}
	return idp.Session{
		UserID:       acct.id,
		AccessToken:  "at_" + acct.id,
		RefreshToken: "rt_" + acct.id,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}
