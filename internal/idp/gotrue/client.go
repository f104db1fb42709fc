// Package gotrue implements the new-provider contract against the Supabase
// Auth (GoTrue) admin and token endpoints.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp"
	"github.com/golang-jwt/jwt/v5"
)

const providerName = "supabase"

// Client talks to GoTrue with the service role key. Access tokens coming back
// from the password grant are verified against the project JWT secret before
// a session is trusted.
type Client struct {
	baseURL    string
	serviceKey string
	jwtSecret  []byte
	httpClient *http.Client
}

func NewClient(baseURL, serviceKey, jwtSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		jwtSecret:  []byte(jwtSecret),
		httpClient: httpClient,
	}
}

func (c *Client) CreateAccount(ctx context.Context, email, password string, metadata map[string]any, emailConfirmed bool) (string, error) {
	body := map[string]any{
		"email":         email,
		"password":      password,
		"user_metadata": metadata,
		"email_confirm": emailConfirmed,
	}
	var result struct {
		ID  string `json:"id"`
		Msg string `json:"msg"`
	}
	status, err := c.do(ctx, http.MethodPost, "/admin/users", body, &result)
	if err != nil {
		return "", &idp.ProviderError{Provider: providerName, Op: "create account", Err: err}
	}
	if status == http.StatusUnprocessableEntity || status == http.StatusConflict {
		return "", idp.ErrEmailExists
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", &idp.ProviderError{Provider: providerName, Op: "create account", Err: fmt.Errorf("status %d: %s", status, result.Msg)}
	}
	if result.ID == "" {
		return "", &idp.ProviderError{Provider: providerName, Op: "create account", Err: fmt.Errorf("missing user id in response")}
	}
	return result.ID, nil
}

func (c *Client) UpdateCredential(ctx context.Context, userID, password string) error {
	return c.updateUser(ctx, userID, map[string]any{"password": password}, "update credential")
}

func (c *Client) UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	return c.updateUser(ctx, userID, map[string]any{"user_metadata": metadata}, "update metadata")
}

func (c *Client) updateUser(ctx context.Context, userID string, body map[string]any, op string) error {
	status, err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(userID), body, nil)
	if err != nil {
		return &idp.ProviderError{Provider: providerName, Op: op, Err: err}
	}
	if status == http.StatusNotFound {
		return idp.ErrUserNotFound
	}
	if status != http.StatusOK {
		return &idp.ProviderError{Provider: providerName, Op: op, Err: fmt.Errorf("status %d", status)}
	}
	return nil
}

func (c *Client) Authenticate(ctx context.Context, email, password string) (idp.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		ErrorCode    string `json:"error_code"`
		Msg          string `json:"msg"`
	}
	status, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", body, &result)
	if err != nil {
		return idp.Session{}, &idp.ProviderError{Provider: providerName, Op: "authenticate", Err: err}
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		// GoTrue reports both a missing account and a wrong password as
		// invalid_grant; user_not_found distinguishes the former.
		if result.ErrorCode == "user_not_found" || strings.Contains(result.Msg, "not found") {
			return idp.Session{}, idp.ErrUserNotFound
		}
		return idp.Session{}, idp.ErrBadCredentials
	}
	if status != http.StatusOK {
		return idp.Session{}, &idp.ProviderError{Provider: providerName, Op: "authenticate", Err: fmt.Errorf("status %d", status)}
	}

	userID, err := c.verifyAccessToken(result.AccessToken)
	if err != nil {
		return idp.Session{}, &idp.ProviderError{Provider: providerName, Op: "authenticate", Err: err}
	}

	return idp.Session{
		UserID:       userID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

// verifyAccessToken validates the GoTrue JWT signature and returns the
// subject (the provider user id).
func (c *Client) verifyAccessToken(accessToken string) (string, error) {
	token, err := jwt.Parse(accessToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return c.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("verify access token: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("access token missing subject")
	}
	return subject, nil
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
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if target != nil {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, target)
		}
	}
	return resp.StatusCode, nil
}
