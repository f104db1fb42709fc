package bridge

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

// fakeLegacy is an in-memory Clerk. Passwords live in a plain map; accounts
// in disabled have no password credential at all.
type fakeLegacy struct {
	mu        sync.Mutex
	users     map[string]idp.LegacyUser
	passwords map[string]string
	disabled  map[string]bool
	revoked   []string
}

func newFakeLegacy() *fakeLegacy {
	return &fakeLegacy{
		users:     make(map[string]idp.LegacyUser),
		passwords: make(map[string]string),
		disabled:  make(map[string]bool),
	}
}

func (f *fakeLegacy) addUser(u idp.LegacyUser, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	if password != "" {
		f.passwords[u.ID] = password
	} else {
		f.disabled[u.ID] = true
	}
}

func (f *fakeLegacy) GetUser(ctx context.Context, userID string) (idp.LegacyUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return idp.LegacyUser{}, idp.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeLegacy) GetUserByEmail(ctx context.Context, email string) (idp.LegacyUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return idp.LegacyUser{}, idp.ErrUserNotFound
}

func (f *fakeLegacy) VerifyPassword(ctx context.Context, userID, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled[userID] {
		return idp.ErrPasswordAuthDisabled
	}
	stored, ok := f.passwords[userID]
	if !ok || stored != password {
		return idp.ErrBadCredentials
	}
	return nil
}

func (f *fakeLegacy) RevokeAllSessions(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	return nil
}

func (f *fakeLegacy) revokedCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.revoked {
		if id == userID {
			n++
		}
	}
	return n
}

type fakeNextAccount struct {
	id       string
	password string
	metadata map[string]any
}

// fakeNext is an in-memory GoTrue keyed by email, with the same unique-email
// constraint the real admin API enforces.
type fakeNext struct {
	mu          sync.Mutex
	accounts    map[string]*fakeNextAccount
	seq         int
	createCalls int
}

func newFakeNext() *fakeNext {
	return &fakeNext{accounts: make(map[string]*fakeNextAccount)}
}

func (f *fakeNext) CreateAccount(ctx context.Context, email, password string, metadata map[string]any, emailConfirmed bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, ok := f.accounts[email]; ok {
		return "", idp.ErrEmailExists
	}
	f.seq++
	acct := &fakeNextAccount{
		id:       fmt.Sprintf("sb_%d", f.seq),
		password: password,
		metadata: metadata,
	}
	f.accounts[email] = acct
	return acct.id, nil
}

func (f *fakeNext) byID(userID string) (string, *fakeNextAccount) {
	for email, acct := range f.accounts {
		if acct.id == userID {
			return email, acct
		}
	}
	return "", nil
}

func (f *fakeNext) UpdateCredential(ctx context.Context, userID, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, acct := f.byID(userID)
	if acct == nil {
		return idp.ErrUserNotFound
	}
	acct.password = password
	return nil
}

func (f *fakeNext) UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, acct := f.byID(userID)
	if acct == nil {
		return idp.ErrUserNotFound
	}
	if acct.metadata == nil {
		acct.metadata = make(map[string]any)
	}
	for k, v := range metadata {
		acct.metadata[k] = v
	}
	return nil
}

func (f *fakeNext) Authenticate(ctx context.Context, email, password string) (idp.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[email]
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

func (f *fakeNext) passwordFor(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[email]; ok {
		return acct.password
	}
	return ""
}

// fakeStore backs both store contracts with maps, mirroring the SQL
// semantics: insert-if-absent on the ledger, conditional updates that report
// zero-row outcomes, and a migrated flag nothing ever clears.
type fakeStore struct {
	mu     sync.Mutex
	ledger map[string]store.MigrationLedgerEntry
	users  map[string]store.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ledger: make(map[string]store.MigrationLedgerEntry),
		users:  make(map[string]store.User),
	}
}

func (f *fakeStore) GetLedgerEntry(ctx context.Context, email string) (store.MigrationLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.ledger[store.NormalizeEmail(email)]
	if !ok || entry.DeletedAt != nil {
		return store.MigrationLedgerEntry{}, sql.ErrNoRows
	}
	return entry, nil
}

func (f *fakeStore) CreateLedgerShell(ctx context.Context, email, clerkID, supabaseID string) (store.MigrationLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	if _, ok := f.ledger[normalized]; ok {
		return store.MigrationLedgerEntry{}, store.ErrLedgerExists
	}
	entry := store.MigrationLedgerEntry{
		Email:      normalized,
		ClerkID:    clerkID,
		SupabaseID: supabaseID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.ledger[normalized] = entry
	return entry, nil
}

func (f *fakeStore) MarkLedgerMigrated(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	entry, ok := f.ledger[normalized]
	if !ok || entry.DeletedAt != nil {
		return sql.ErrNoRows
	}
	if !entry.Migrated {
		now := time.Now()
		entry.Migrated = true
		entry.MigratedAt = &now
		f.ledger[normalized] = entry
	}
	return nil
}

func (f *fakeStore) CompleteMigration(ctx context.Context, email, supabaseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	entry, ok := f.ledger[normalized]
	if !ok || entry.DeletedAt != nil {
		return sql.ErrNoRows
	}
	if !entry.Migrated {
		now := time.Now()
		entry.Migrated = true
		entry.MigratedAt = &now
		f.ledger[normalized] = entry
	}
	for id, u := range f.users {
		if u.Email == normalized && u.DeletedAt == nil {
			u.SupabaseID = &supabaseID
			f.users[id] = u
		}
	}
	return nil
}

func (f *fakeStore) SoftDeleteByClerkID(ctx context.Context, clerkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for email, entry := range f.ledger {
		if entry.ClerkID == clerkID && entry.DeletedAt == nil {
			entry.DeletedAt = &now
			f.ledger[email] = entry
		}
	}
	for id, u := range f.users {
		if u.ClerkID != nil && *u.ClerkID == clerkID && u.DeletedAt == nil {
			u.DeletedAt = &now
			f.users[id] = u
		}
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	for _, u := range f.users {
		if u.Email == normalized && u.DeletedAt == nil {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByInvitationToken(ctx context.Context, token string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.InvitationToken != nil && *u.InvitationToken == token && u.DeletedAt == nil {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateInvitedUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = store.NormalizeEmail(user.Email)
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) ExtendInvitation(ctx context.Context, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.InvitationToken == nil {
		return sql.ErrNoRows
	}
	u.InvitationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) ActivateInvitedUser(ctx context.Context, userID, clerkID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.ClerkID == nil || !strings.HasPrefix(*u.ClerkID, store.InvitedPlaceholderPrefix) {
		return false, nil
	}
	u.ClerkID = &clerkID
	u.InvitationToken = nil
	u.InvitationExpiresAt = nil
	f.users[userID] = u
	return true, nil
}

func (f *fakeStore) UpsertUserIdentity(ctx context.Context, email, displayName, clerkID, supabaseID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := store.NormalizeEmail(email)
	for id, u := range f.users {
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
			f.users[id] = u
			return u, nil
		}
	}
	u := store.User{
		ID:          fmt.Sprintf("usr_%d", len(f.users)+1),
		Email:       normalized,
		DisplayName: displayName,
		Role:        "user",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if clerkID != "" {
		u.ClerkID = &clerkID
	}
	if supabaseID != "" {
		u.SupabaseID = &supabaseID
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) TouchClerkLogin(ctx context.Context, clerkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for id, u := range f.users {
		if u.ClerkID != nil && *u.ClerkID == clerkID {
			u.LastClerkLogin = &now
			f.users[id] = u
		}
	}
	return nil
}

func (f *fakeStore) entry(email string) (store.MigrationLedgerEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.ledger[store.NormalizeEmail(email)]
	return entry, ok
}

func (f *fakeStore) userByEmail(email string) (store.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == store.NormalizeEmail(email) {
			return u, true
		}
	}
	return store.User{}, false
}
