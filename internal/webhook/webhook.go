// Package webhook verifies and decodes Clerk webhook deliveries. Signatures
// follow the svix scheme: HMAC-SHA256 over "<msg id>.<timestamp>.<payload>"
// with a base64 secret, carried base64-encoded in a space-separated,
// version-prefixed header.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSignatureInvalid reports a delivery whose signature does not match.
	// Responded to with 400 so the sender never retries a forgery.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrTimestampSkew reports a delivery outside the replay window.
	ErrTimestampSkew = errors.New("webhook timestamp outside tolerance")
)

const (
	secretPrefix    = "whsec_"
	signatureScheme = "v1"
	// Tolerance mirrors the svix default.
	defaultTolerance = 5 * time.Minute
)

// Verifier checks delivery signatures for one endpoint secret.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier parses the whsec_-prefixed endpoint secret. The prefix is
// optional; what follows must be standard base64.
func NewVerifier(secret string) (*Verifier, error) {
	trimmed := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &Verifier{key: key, tolerance: defaultTolerance, now: time.Now}, nil
}

// Verify checks the three svix headers against the raw request body. The
// timestamp is validated first so replays are cheap to reject; signatures are
// compared in constant time.
func (v *Verifier) Verify(msgID, timestamp, signatureHeader string, payload []byte) error {
	if msgID == "" || timestamp == "" || signatureHeader == "" {
		return ErrSignatureInvalid
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	sent := time.Unix(ts, 0)
	now := v.now()
	if sent.Before(now.Add(-v.tolerance)) || sent.After(now.Add(v.tolerance)) {
		return ErrTimestampSkew
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	// The header may carry several space-separated signatures during secret
	// rotation; any one matching our key is enough.
	for _, candidate := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != signatureScheme {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// Event types the bridge consumes. Everything else is acknowledged and
// dropped.
const (
	EventSessionCreated = "session.created"
	EventUserDeleted    = "user.deleted"
)

// Event is a decoded Clerk delivery. Data keeps the provider-specific shape
// out of the transport layer; callers pick the fields for their event type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SessionCreatedData is the payload subset for session.created.
type SessionCreatedData struct {
	UserID string `json:"user_id"`
}

// UserDeletedData is the payload subset for user.deleted.
type UserDeletedData struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ParseEvent decodes a verified payload.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.Type == "" {
		return Event{}, errors.New("webhook event has no type")
	}
	return event, nil
}

// SessionCreated decodes the event data for session.created deliveries.
func (e Event) SessionCreated() (SessionCreatedData, error) {
	var data SessionCreatedData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return SessionCreatedData{}, fmt.Errorf("decode session.created data: %w", err)
	}
	if data.UserID == "" {
		return SessionCreatedData{}, errors.New("session.created event has no user_id")
	}
	return data, nil
}

// UserDeleted decodes the event data for user.deleted deliveries.
func (e Event) UserDeleted() (UserDeletedData, error) {
	var data UserDeletedData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return UserDeletedData{}, fmt.Errorf("decode user.deleted data: %w", err)
	}
	if data.ID == "" {
		return UserDeletedData{}, errors.New("user.deleted event has no id")
	}
	return data, nil
}
