// Package token implements API token validation against the backend's
// api_tokens table: exact-match lookup, status and expiry checks, and a
// best-effort last-used update. Tokens are admin-issued machine
// credentials, distinct from user session tokens.
package token

import "time"

// Status values for an API token row.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

// APIToken is a row of the api_tokens table. The Token value is the
// opaque secret compared in full on lookup; it is never logged whole.
type APIToken struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Token       string     `json:"-"`
	Permissions []string   `json:"permissions"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Usable reports whether the token may be accepted at time now: status
// must be active and any expiry must lie in the future. Expiry is a
// read-time check; the stored status is not flipped here.
func (t *APIToken) Usable(now time.Time) bool {
	if t.Status != StatusActive {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Prefix returns the first few characters of the secret for log lines.
// The full value must never appear in logs.
func (t *APIToken) Prefix() string {
	const n = 8
	if len(t.Token) <= n {
		return t.Token
	}
	return t.Token[:n]
}
