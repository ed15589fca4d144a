package domain

import "time"

// User is the identity record managed by the directory. Hosts that plug in
// their own store must be able to produce this shape from whatever they
// persist; nothing in the core depends on more than these fields.
type User struct {
	ID           int64
	Email        string
	Name         string
	ProfilePic   string
	PasswordHash string
	Staff        bool
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the user can complete a password login.
// Social-only and passwordless accounts carry no hash at all.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Role is a named permission group shared across users. Identity is the
// name; roles are referenced by users, never owned by them.
type Role struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
