package bridge

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/util"
	"github.com/google/uuid"
)

// Invitation is the outcome of an admin invite: a placeholder User row plus
// the opaque token the invitee will present.
type Invitation struct {
	User  store.User
	Token string
}

// Inviter provisions account shells for people who do not exist in either
// identity provider yet. The placeholder legacy id keeps the row visibly
// unactivated until the Linker swaps in a real Clerk id.
type Inviter struct {
	users UserStore
	ttl   time.Duration
}

func NewInviter(users UserStore, ttl time.Duration) *Inviter {
	return &Inviter{users: users, ttl: ttl}
}

// Invite creates the placeholder row. Inviting an email that already has an
// account is a conflict the admin surface reports back.
func (i *Inviter) Invite(ctx context.Context, email, displayName, role, invitedBy string) (Invitation, error) {
	normalized := store.NormalizeEmail(email)
	if normalized == "" {
		return Invitation{}, &ValidationError{Rule: "email is required"}
	}
	if role == "" {
		role = "user"
	}

	_, err := i.users.GetUserByEmail(ctx, normalized)
	if err == nil {
		return Invitation{}, ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, err
	}

	token, err := generateInviteToken()
	if err != nil {
		return Invitation{}, fmt.Errorf("generate invitation token: %w", err)
	}

	placeholder := store.InvitedPlaceholderPrefix + util.NewID("")
	expiresAt := time.Now().Add(i.ttl)
	user := store.User{
		// users.id is a UUID column; rows minted here must match what
		// gen_random_uuid() produces for every other row.
		ID:                  uuid.NewString(),
		Email:               normalized,
		DisplayName:         displayName,
		Role:                role,
		ClerkID:             &placeholder,
		InvitationToken:     &token,
		InvitationExpiresAt: &expiresAt,
	}
	if invitedBy != "" {
		user.InvitedBy = &invitedBy
	}

	if err := i.users.CreateInvitedUser(ctx, user); err != nil {
		return Invitation{}, err
	}
	return Invitation{User: user, Token: token}, nil
}

// Reinvite pushes an unexpired-or-expired invitation's window forward so the
// original link works again. Only placeholder rows can be re-invited.
func (i *Inviter) Reinvite(ctx context.Context, email string) (store.User, error) {
	user, err := i.users.GetUserByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, err
	}
	if StageOf(user, nil) != StageInvited {
		return store.User{}, ErrAlreadyActivated
	}

	expiresAt := time.Now().Add(i.ttl)
	if err := i.users.ExtendInvitation(ctx, user.ID, expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrNotFound
		}
		return store.User{}, err
	}
	user.InvitationExpiresAt = &expiresAt
	return user, nil
}

func generateInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
