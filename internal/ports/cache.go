package ports

import (
	"context"
	"time"
)

// Session keys used by the login flows. The remember flag and the flash
// message are one-shot values: read once through Take and gone afterwards.
const (
	SessionKeyUserID   = "user_id"
	SessionKeyRemember = "remember"
	SessionKeyFlash    = "flash"
)

// SessionStore is per-client key/value state addressed by the session
// cookie. Values persist across requests until removed or the whole
// session expires.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Remove(ctx context.Context, sessionID, key string) error
	// Take reads and removes a key in one step so one-shot values
	// cannot leak into later logins on the same session.
	Take(ctx context.Context, sessionID, key string) (string, bool, error)
	// ExpireAfter adjusts the server-side lifetime of the whole session.
	ExpireAfter(ctx context.Context, sessionID string, ttl time.Duration) error
	// Destroy drops all keys for the session. Safe when nothing is stored.
	Destroy(ctx context.Context, sessionID string) error
}

// HandshakeState is the server-generated context of one provider round-trip,
// stored under the opaque state token and consumed exactly once by the
// callback.
type HandshakeState struct {
	Issuer       string    `json:"issuer"`
	SessionID    string    `json:"session_id"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	Next         string    `json:"next"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type HandshakeStateStore interface {
	Put(ctx context.Context, state string, value HandshakeState, ttl time.Duration) error
	Get(ctx context.Context, state string) (*HandshakeState, error)
	Delete(ctx context.Context, state string) error
}
