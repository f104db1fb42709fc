// Package clerk implements the legacy-provider contract against the Clerk
// Backend API.
package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
)

const providerName = "clerk"

// Client is a thin wrapper over the Clerk Backend API. Every call carries the
// caller's context; the injected http.Client bounds the round trip.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

type clerkUser struct {
	ID              string `json:"id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PasswordEnabled bool   `json:"password_enabled"`
	EmailAddresses  []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
}

func (u clerkUser) toLegacyUser() idp.LegacyUser {
	email := ""
	for _, address := range u.EmailAddresses {
		if address.ID == u.PrimaryEmailAddressID || email == "" {
			email = address.EmailAddress
		}
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	return idp.LegacyUser{
		ID:              u.ID,
		Email:           email,
		DisplayName:     name,
		PasswordEnabled: u.PasswordEnabled,
	}
}

func (c *Client) GetUser(ctx context.Context, userID string) (idp.LegacyUser, error) {
	var user clerkUser
	status, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user)
	if err != nil {
		return idp.LegacyUser{}, &idp.ProviderError{Provider: providerName, Op: "get user", Err: err}
	}
	if status == http.StatusNotFound {
		return idp.LegacyUser{}, idp.ErrUserNotFound
	}
	if status != http.StatusOK {
		return idp.LegacyUser{}, &idp.ProviderError{Provider: providerName, Op: "get user", Err: fmt.Errorf("status %d", status)}
	}
	return user.toLegacyUser(), nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (idp.LegacyUser, error) {
	var users []clerkUser
	query := "/users?email_address=" + url.QueryEscape(email)
	status, err := c.do(ctx, http.MethodGet, query, nil, &users)
	if err != nil {
		return idp.LegacyUser{}, &idp.ProviderError{Provider: providerName, Op: "get user by email", Err: err}
	}
	if status != http.StatusOK {
		return idp.LegacyUser{}, &idp.ProviderError{Provider: providerName, Op: "get user by email", Err: fmt.Errorf("status %d", status)}
	}
	if len(users) == 0 {
		return idp.LegacyUser{}, idp.ErrUserNotFound
	}
	return users[0].toLegacyUser(), nil
}

func (c *Client) VerifyPassword(ctx context.Context, userID, password string) error {
	body := map[string]string{"password": password}
	var result struct {
		Verified bool `json:"verified"`
	}
	status, err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/verify_password", body, &result)
	if err != nil {
		return &idp.ProviderError{Provider: providerName, Op: "verify password", Err: err}
	}
	switch {
	case status == http.StatusOK && result.Verified:
		return nil
	case status == http.StatusUnprocessableEntity:
		// Clerk rejects verification outright for accounts without a
		// password (social login only).
		return idp.ErrPasswordAuthDisabled
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusNotFound || status == http.StatusOK:
		return idp.ErrBadCredentials
	default:
		return &idp.ProviderError{Provider: providerName, Op: "verify password", Err: fmt.Errorf("status %d", status)}
	}
}

func (c *Client) RevokeAllSessions(ctx context.Context, userID string) error {
	var sessions []struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, http.MethodGet, "/sessions?user_id="+url.QueryEscape(userID)+"&status=active", nil, &sessions)
	if err != nil {
		return &idp.ProviderError{Provider: providerName, Op: "list sessions", Err: err}
	}
	if status != http.StatusOK {
		return &idp.ProviderError{Provider: providerName, Op: "list sessions", Err: fmt.Errorf("status %d", status)}
	}
	for _, session := range sessions {
		status, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(session.ID)+"/revoke", nil, nil)
		if err != nil {
			return &idp.ProviderError{Provider: providerName, Op: "revoke session", Err: err}
		}
		if status != http.StatusOK {
			return &idp.ProviderError{Provider: providerName, Op: "revoke session", Err: fmt.Errorf("status %d", status)}
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if target != nil && resp.StatusCode < http.StatusInternalServerError {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if len(payload) > 0 {
			// Decode errors on non-2xx bodies are expected; status wins.
			_ = json.Unmarshal(payload, target)
		}
	}
	return resp.StatusCode, nil
}
