package bridge

import (
	"context"
	"errors"
	"log"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// LoginStatus is the outcome of a routed login attempt.
type LoginStatus string

const (
	StatusAuthenticated       LoginStatus = "authenticated"
	StatusInvalidCredentials  LoginStatus = "invalid_credentials"
	StatusNeedsProviderSwitch LoginStatus = "needs_provider_switch"
)

// LoginResult carries the Supabase session for authenticated outcomes.
type LoginResult struct {
	Status  LoginStatus
	Session idp.Session
	Email   string
}

// Router decides per login attempt which provider authenticates the user
// and performs the transparent auto-migration on the first legacy login
// after cutover.
type Router struct {
	legacy      idp.LegacyProvider
	next        idp.NewProvider
	ledger      *Ledger
	users       UserStore
	provisioner *Provisioner
}

func NewRouter(legacy idp.LegacyProvider, next idp.NewProvider, ledger *Ledger, users UserStore, provisioner *Provisioner) *Router {
	return &Router{
		legacy:      legacy,
		next:        next,
		ledger:      ledger,
		users:       users,
		provisioner: provisioner,
	}
}

// Login authenticates email+password against the correct provider.
//
// Supabase goes first: it is the steady-state home for migrated users. A
// credential failure there only falls through to Clerk when the ledger says
// the identity has not migrated; once migrated=true, Clerk is never
// consulted again for that email. On a successful Clerk check the router
// provisions the shell if needed, carries the just-verified plaintext
// password onto the shell credential, and establishes a Supabase session —
// the user's existing password becomes their new-provider password because
// Clerk already proved they know it.
func (r *Router) Login(ctx context.Context, email, password string) (LoginResult, error) {
	normalized := store.NormalizeEmail(email)

	session, err := r.next.Authenticate(ctx, normalized, password)
	if err == nil {
		return LoginResult{Status: StatusAuthenticated, Session: session, Email: normalized}, nil
	}
	if !errors.Is(err, idp.ErrUserNotFound) && !errors.Is(err, idp.ErrBadCredentials) {
		return LoginResult{}, err
	}

	if errors.Is(err, idp.ErrBadCredentials) {
		// The account exists at Supabase. If it is a real migrated account
		// the password is simply wrong; if it is an unmigrated shell its
		// credential is still the random placeholder and the legacy check
		// below decides.
		entry, ledgerErr := r.ledger.GetByEmail(ctx, normalized)
		if ledgerErr == nil && entry.Migrated {
			return LoginResult{Status: StatusInvalidCredentials}, nil
		}
		if ledgerErr != nil && !errors.Is(ledgerErr, ErrNotFound) {
			return LoginResult{}, ledgerErr
		}
	}

	legacyUser, err := r.legacy.GetUserByEmail(ctx, normalized)
	if errors.Is(err, idp.ErrUserNotFound) {
		return LoginResult{Status: StatusInvalidCredentials}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}

	err = r.legacy.VerifyPassword(ctx, legacyUser.ID, password)
	if errors.Is(err, idp.ErrBadCredentials) {
		return LoginResult{Status: StatusInvalidCredentials}, nil
	}
	if errors.Is(err, idp.ErrPasswordAuthDisabled) {
		// Social-only legacy account: there is no password to carry forward.
		// The user has to pick one through the explicit completion flow.
		return LoginResult{Status: StatusNeedsProviderSwitch, Email: normalized}, nil
	}
	if err != nil {
		return LoginResult{}, err
	}

	entry, err := r.provisioner.EnsureShell(ctx, legacyUser.ID)
	if err != nil {
		return LoginResult{}, err
	}

	// Carry the verified password onto the shell, then authenticate against
	// it. Deliberately does not mark the ledger migrated: only the explicit
	// completion call flips that flag.
	if err := r.next.UpdateCredential(ctx, entry.SupabaseID, password); err != nil {
		return LoginResult{}, err
	}
	session, err = r.next.Authenticate(ctx, normalized, password)
	if err != nil {
		return LoginResult{}, err
	}

	if err := r.users.TouchClerkLogin(ctx, legacyUser.ID); err != nil {
		log.Printf("bridge: touch clerk login for %s: %v", legacyUser.ID, err)
	}

	return LoginResult{Status: StatusAuthenticated, Session: session, Email: normalized}, nil
}
