// Package login dispatches authentication requests across the password,
// social, and passwordless strategies. Every strategy resolves to a directory
// user or one of the typed failures in internal/domain; raw upstream errors
// never escape this package.
package login

import (
	"context"
	"time"
)

// Request is the union of the three login shapes. The dispatcher picks a
// strategy from which fields are set.
type Request struct {
	Email    string
	Password string

	Provider    string
	AccessToken string
	Code        string
	RedirectURI string

	// OneTimeCode is the passwordless verification code. Its presence
	// together with an email (and no provider) selects passwordless verify.
	OneTimeCode string
}

// StoredCode is the sealed one-time code at rest. ExpiresAt travels inside
// the payload so expiry can be told apart from a code that never existed.
type StoredCode struct {
	Envelope  string    `json:"envelope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeStore holds sealed one-time codes, keyed by normalized email. Take
// must consume atomically: a stored code can be observed at most once.
type CodeStore interface {
	Put(ctx context.Context, email string, code StoredCode, retain time.Duration) error
	// Take removes and returns the stored code, or nil when absent.
	Take(ctx context.Context, email string) (*StoredCode, error)
}
