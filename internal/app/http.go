package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/auth"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/bridge"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/session"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/webhook"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"success": status == "ready",
			"status":  status,
			"checks":  checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/complete-migration" {
		s.handleCompleteMigration(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/request-migration" {
		s.handleRequestMigration(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invitations/accept" {
		s.handleAcceptInvitation(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/invitations" {
		s.handleInvite(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/invitations/resend" {
		s.handleReinvite(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"authenticated": true,
			"userId":        sess.UserID,
			"email":         sess.Email,
			"userName":      sess.UserName,
			"role":          sess.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		sess := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				sess = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), sess, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/webhooks/clerk" {
		s.handleClerkWebhook(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *HTTPServer) handleCompleteMigration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClerkUserID string `json:"clerkUserId"`
		Email       string `json:"email"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, already, err := s.service.CompleteMigration(r.Context(), CompleteInput{
		ClerkUserID: body.ClerkUserID,
		Email:       body.Email,
		NewPassword: body.NewPassword,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if already {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "alreadyMigrated": true})
		return
	}
	payload := sessionPayload(sess)
	payload["alreadyMigrated"] = false
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRequestMigration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	migrationURL, err := s.service.RequestMigrationEmail(r.Context(), body.Email)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	response := map[string]any{"success": true}
	// Dev bypass: surface the link when no mailer can deliver it
	if migrationURL != "" && !s.service.SMTPConfigured() {
		response["devMigrationURL"] = migrationURL
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		ClerkUserID string `json:"clerkUserId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.AcceptInvitation(r.Context(), body.Token, body.ClerkUserID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"userId":   user.ID,
		"email":    user.Email,
		"userName": user.DisplayName,
		"role":     user.Role,
	})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	inv, err := s.service.InviteUser(r.Context(), sess, body.Email, body.DisplayName, body.Role)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	response := map[string]any{
		"success":   true,
		"userId":    inv.User.ID,
		"email":     inv.User.Email,
		"expiresAt": inv.User.InvitationExpiresAt.Unix(),
	}
	// Dev bypass: surface the token when no mailer can deliver it
	if !s.service.SMTPConfigured() {
		response["devInviteToken"] = inv.Token
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleReinvite(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.ReinviteUser(r.Context(), sess, body.Email)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"userId":    user.ID,
		"email":     user.Email,
		"expiresAt": user.InvitationExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
		return
	}
	defer r.Body.Close()

	err = s.service.HandleWebhook(
		r.Context(),
		r.Header.Get("svix-id"),
		r.Header.Get("svix-timestamp"),
		r.Header.Get("svix-signature"),
		payload,
	)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return sess, true
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"success":      true,
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"email":        sess.Email,
		"userName":     sess.UserName,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, svix-id, svix-timestamp, svix-signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *bridge.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Rule, nil
	}
	switch {
	case errors.Is(err, bridge.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, bridge.ErrNeedsProviderSwitch):
		return http.StatusConflict, "NEEDS_PROVIDER_SWITCH", "Set a new password to finish moving your account", nil
	case errors.Is(err, bridge.ErrExpired):
		return http.StatusGone, "EXPIRED", "Invitation expired", nil
	case errors.Is(err, bridge.ErrInvalidToken):
		return http.StatusNotFound, "NOT_FOUND", "Invitation not found", nil
	case errors.Is(err, bridge.ErrAlreadyActivated):
		return http.StatusConflict, "ALREADY_ACTIVATED", "Account already activated", nil
	case errors.Is(err, bridge.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Account already exists", nil
	case errors.Is(err, bridge.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, webhook.ErrSignatureInvalid), errors.Is(err, webhook.ErrTimestampSkew):
		return http.StatusBadRequest, "SIGNATURE_INVALID", "Webhook signature invalid", nil
	case errors.Is(err, session.ErrTokenNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var providerErr *idp.ProviderError
	if errors.As(err, &providerErr) {
		return http.StatusBadGateway, "PROVIDER_ERROR", "Identity provider unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
