package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/auth"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/bridge"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/config"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/email"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/rbac"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/util"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/webhook"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetLedgerEntry(ctx context.Context, email string) (store.MigrationLedgerEntry, error)
	UpsertUserIdentity(ctx context.Context, email, displayName, clerkID, supabaseID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// PostgresRefreshStore adapts the relational refresh tables to the session
// store contract. Used when Redis is not configured.
type PostgresRefreshStore struct {
	Store *store.PostgresStore
}

func (p PostgresRefreshStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.Store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p PostgresRefreshStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.Store.LookupRefreshSession(ctx, tokenHash)
}

func (p PostgresRefreshStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.Store.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg         config.Config
	store       dataStore
	refresh     refreshStore
	router      *bridge.Router
	provisioner *bridge.Provisioner
	completion  *bridge.Completion
	linker      *bridge.Linker
	inviter     *bridge.Inviter
	lifecycle   *bridge.Lifecycle
	verifier    *webhook.Verifier
	mailer      *email.Service
}

// Deps bundles the collaborators the service is wired with at startup.
type Deps struct {
	Store       dataStore
	Refresh     refreshStore
	Router      *bridge.Router
	Provisioner *bridge.Provisioner
	Completion  *bridge.Completion
	Linker      *bridge.Linker
	Inviter     *bridge.Inviter
	Lifecycle   *bridge.Lifecycle
	Verifier    *webhook.Verifier
	Mailer      *email.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		refresh:     deps.Refresh,
		router:      deps.Router,
		provisioner: deps.Provisioner,
		completion:  deps.Completion,
		linker:      deps.Linker,
		inviter:     deps.Inviter,
		lifecycle:   deps.Lifecycle,
		verifier:    deps.Verifier,
		mailer:      deps.Mailer,
	}
}

// Login routes the credential check through the migration bridge and issues
// an application session on success.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	if emailAddr == "" || password == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required", nil)
	}

	result, err := s.router.Login(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}

	switch result.Status {
	case bridge.StatusInvalidCredentials:
		return Session{}, bridge.ErrInvalidCredentials
	case bridge.StatusNeedsProviderSwitch:
		// No password to carry forward; point the user at the explicit
		// completion flow.
		s.sendMigrationEmail(ctx, result.Email)
		return Session{}, bridge.ErrNeedsProviderSwitch
	}

	user, err := s.store.GetUserByEmail(ctx, result.Email)
	if err != nil {
		// Migrated accounts that pre-date the User backfill get their row on
		// first login. A soft-deleted row is a different story: the upsert
		// refuses to revive it, and the login is rejected even though the
		// provider-side account still answers.
		user, err = s.store.UpsertUserIdentity(ctx, result.Email, "", "", result.Session.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, bridge.ErrInvalidCredentials
		}
		if err != nil {
			return Session{}, err
		}
	}

	return s.issueSession(ctx, user)
}

type CompleteInput struct {
	ClerkUserID string
	Email       string
	NewPassword string
}

// CompleteMigration finalizes an account move and logs the user straight in
// with their new credential.
func (s *Service) CompleteMigration(ctx context.Context, input CompleteInput) (Session, bool, error) {
	result, err := s.completion.Complete(ctx, bridge.Identifier{
		ClerkUserID: input.ClerkUserID,
		Email:       input.Email,
	}, input.NewPassword)
	if err != nil {
		return Session{}, false, err
	}
	if result.AlreadyMigrated {
		return Session{}, true, nil
	}

	session, err := s.Login(ctx, result.Email, input.NewPassword)
	if err != nil {
		return Session{}, false, err
	}
	return session, false, nil
}

// AcceptInvitation consumes an invite token for a Clerk identity and
// provisions the new-provider shell right away.
func (s *Service) AcceptInvitation(ctx context.Context, token, clerkUserID string) (store.User, error) {
	user, err := s.linker.Link(ctx, token, clerkUserID)
	if err != nil {
		return store.User{}, err
	}

	if _, err := s.provisioner.EnsureShell(ctx, clerkUserID); err != nil {
		// The account is activated either way; the webhook path provisions
		// the shell on the next legacy sign-in.
		log.Printf("app: provision shell for invited user %s: %v", clerkUserID, err)
	}
	return user, nil
}

// InviteUser provisions a placeholder account and emails the invite link.
// Requires the invite permission.
func (s *Service) InviteUser(ctx context.Context, session Session, emailAddr, displayName, role string) (bridge.Invitation, error) {
	if !s.Can(session.Role, rbac.ActionInvite) {
		return bridge.Invitation{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	inv, err := s.inviter.Invite(ctx, emailAddr, displayName, role, session.UserID)
	if err != nil {
		return bridge.Invitation{}, err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		inviteURL := fmt.Sprintf("%s/invite?token=%s", s.cfg.AppBaseURL, url.QueryEscape(inv.Token))
		expiresIn := fmt.Sprintf("%d days", int(s.cfg.InviteTTL.Hours()/24))
		if err := s.mailer.SendInvitationEmail(inv.User.Email, displayName, session.UserName, inviteURL, expiresIn); err != nil {
			log.Printf("app: send invitation email to %s: %v", inv.User.Email, err)
		}
	}
	return inv, nil
}

// ReinviteUser extends an open invitation and resends the email.
func (s *Service) ReinviteUser(ctx context.Context, session Session, emailAddr string) (store.User, error) {
	if !s.Can(session.Role, rbac.ActionInvite) {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	user, err := s.inviter.Reinvite(ctx, emailAddr)
	if err != nil {
		return store.User{}, err
	}

	if s.mailer != nil && s.mailer.IsConfigured() && user.InvitationToken != nil {
		inviteURL := fmt.Sprintf("%s/invite?token=%s", s.cfg.AppBaseURL, url.QueryEscape(*user.InvitationToken))
		expiresIn := fmt.Sprintf("%d days", int(s.cfg.InviteTTL.Hours()/24))
		if err := s.mailer.SendInvitationEmail(user.Email, user.DisplayName, session.UserName, inviteURL, expiresIn); err != nil {
			log.Printf("app: resend invitation email to %s: %v", user.Email, err)
		}
	}
	return user, nil
}

// RequestMigrationEmail drives the reset-based completion flow: the user
// asks for the finish-migration link by email instead of logging in first.
// The response is identical whether or not the address has an account, so
// the endpoint does not leak who is registered.
func (s *Service) RequestMigrationEmail(ctx context.Context, emailAddr string) (string, error) {
	normalized := store.NormalizeEmail(emailAddr)
	if normalized == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}
	return s.sendMigrationEmail(ctx, normalized), nil
}

// sendMigrationEmail delivers the finish-migration link when the address has
// an open ledger entry. Returns the link so the dev bypass can surface it,
// or "" when the address is not eligible.
func (s *Service) sendMigrationEmail(ctx context.Context, normalized string) string {
	entry, err := s.store.GetLedgerEntry(ctx, normalized)
	if err != nil || entry.Migrated {
		return ""
	}

	displayName := ""
	if user, err := s.store.GetUserByEmail(ctx, normalized); err == nil {
		displayName = user.DisplayName
	}

	migrationURL := fmt.Sprintf("%s/migrate?email=%s", s.cfg.AppBaseURL, url.QueryEscape(normalized))
	if s.mailer != nil && s.mailer.IsConfigured() {
		if err := s.mailer.SendMigrationEmail(normalized, displayName, migrationURL); err != nil {
			log.Printf("app: send migration email to %s: %v", normalized, err)
		}
	}
	return migrationURL
}

// HandleWebhook verifies and dispatches a Clerk delivery. Signature failures
// come back as SIGNATURE_INVALID so the transport answers 400 and the sender
// drops the message; processing failures surface as errors the transport
// turns into a retryable 5xx.
func (s *Service) HandleWebhook(ctx context.Context, msgID, timestamp, signature string, payload []byte) error {
	if err := s.verifier.Verify(msgID, timestamp, signature, payload); err != nil {
		return err
	}

	event, err := webhook.ParseEvent(payload)
	if err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}

	switch event.Type {
	case webhook.EventSessionCreated:
		data, err := event.SessionCreated()
		if err != nil {
			return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		}
		if _, err := s.provisioner.EnsureShell(ctx, data.UserID); err != nil {
			return fmt.Errorf("provision shell for %s: %w", data.UserID, err)
		}
	case webhook.EventUserDeleted:
		data, err := event.UserDeleted()
		if err != nil {
			return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		}
		if err := s.lifecycle.Delete(ctx, data.ID); err != nil {
			return fmt.Errorf("sync deletion for %s: %w", data.ID, err)
		}
	default:
		// Unhandled event types are acknowledged so the sender stops
		// retrying them.
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
