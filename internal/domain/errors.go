package domain

import "errors"

var (
	// ErrInvalidCredentials covers every password-login failure: unknown
	// email, account without a password hash, and a wrong password all
	// collapse into this one value so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrProvider signals an upstream social-provider failure or timeout.
	ErrProvider = errors.New("auth: identity provider error")
	// ErrUnverifiedIdentity means the provider did not assert the email as verified.
	ErrUnverifiedIdentity = errors.New("auth: identity not verified by provider")
	// ErrCodeExpired means the one-time code outlived its window.
	ErrCodeExpired = errors.New("auth: one-time code expired")
	// ErrCodeInvalid means the one-time code is wrong or was already used.
	ErrCodeInvalid = errors.New("auth: one-time code invalid")
	// ErrDuplicateEmail is returned by the directory on signup collisions.
	ErrDuplicateEmail = errors.New("auth: email already registered")
	// ErrUserNotFound is internal to the directory boundary; login strategies
	// translate it before it reaches a caller.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDelivery signals the notification backend could not deliver.
	ErrDelivery = errors.New("auth: notification delivery failed")
	// ErrPasswordlessDisabled is returned when a code is requested while the
	// passwordless flow is switched off.
	ErrPasswordlessDisabled = errors.New("auth: passwordless login disabled")
)
