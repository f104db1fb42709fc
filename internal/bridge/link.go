package bridge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
)

// Linker binds an invited User row to the Clerk identity that signs in with
// its token. This is the only path that turns an admin-provisioned
// placeholder into a real, loggable-in account. It does not touch the
// migration ledger: invited users never had a legacy-only phase to bridge.
type Linker struct {
	users UserStore
	now   func() time.Time
}

func NewLinker(users UserStore) *Linker {
	return &Linker{users: users, now: time.Now}
}

// Link consumes the invitation token and replaces the invited_ placeholder
// with clerkUserID. The token survives expiry so an administrator can extend
// the deadline without regenerating it; a timestamp exactly at the expiry
// instant counts as expired.
func (l *Linker) Link(ctx context.Context, token, clerkUserID string) (store.User, error) {
	if token == "" || clerkUserID == "" {
		return store.User{}, ErrInvalidToken
	}

	user, err := l.users.GetUserByInvitationToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidToken
	}
	if err != nil {
		return store.User{}, err
	}

	if user.InvitationExpiresAt != nil && !l.now().Before(*user.InvitationExpiresAt) {
		return store.User{}, ErrExpired
	}

	if StageOf(user, nil) != StageInvited {
		return store.User{}, ErrAlreadyActivated
	}

	activated, err := l.users.ActivateInvitedUser(ctx, user.ID, clerkUserID)
	if err != nil {
		return store.User{}, err
	}
	if !activated {
		// Conditional update matched zero rows: a concurrent request won.
		return store.User{}, ErrAlreadyActivated
	}

	user.ClerkID = &clerkUserID
	user.InvitationToken = nil
	user.InvitationExpiresAt = nil
	return user, nil
}
