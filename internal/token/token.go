// Package token issues, verifies, rotates, and revokes the signed access and
// refresh token pairs that prove a login. Refresh tokens are single-use:
// every pair carries a rotation identifier tracked in a Store, so a leaked
// refresh token is only good for one rotation window.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/domain"
)

// Kind distinguishes the two halves of an issued pair on the wire.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed means the token could not be parsed as a signed JWT.
	ErrMalformed = errors.New("token: malformed")
	// ErrExpired means the token is past its exp claim.
	ErrExpired = errors.New("token: expired")
	// ErrSignatureInvalid means the signature does not verify under the server key.
	ErrSignatureInvalid = errors.New("token: signature invalid")
	// ErrKindMismatch means an access token was presented where a refresh
	// token was expected, or vice versa.
	ErrKindMismatch = errors.New("token: kind mismatch")
	// ErrAudience means the aud claim does not match the configured audience.
	ErrAudience = errors.New("token: audience mismatch")
	// ErrReuseDetected means a refresh token was presented after its rotation
	// identifier had already been exchanged. Treated as theft.
	ErrReuseDetected = errors.New("token: refresh token reuse detected")
	// ErrRevoked means the rotation identifier was explicitly revoked.
	ErrRevoked = errors.New("token: revoked")
)

// Pair bundles one access/refresh issuance. Both tokens share a rotation
// identifier so revocation hits the pair as a unit.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims is the verified payload handed back to callers.
type Claims struct {
	UserID    int64
	Kind      Kind
	Rotation  string
	Email     string
	Roles     []string
	Staff     bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type customClaims struct {
	Kind     Kind     `json:"kind"`
	Rotation string   `json:"rot"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Staff    bool     `json:"staff,omitempty"`
}

// Service signs and validates token pairs with one server-held key.
type Service struct {
	secret       []byte
	alg          gojose.SignatureAlgorithm
	audience     string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	store        Store
	revokeFamily bool
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Option tweaks Service construction.
type Option func(*Service)

// WithClock overrides the time source; tests use it to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the token service. The signing algorithm comes from
// configuration and must be an HMAC variant; anything else is a startup
// error, never a per-request one.
func New(cfg config.Config, store Store, logger *zap.Logger, opts ...Option) (*Service, error) {
	alg, err := hmacAlgorithm(cfg.JWTAlgorithm)
	if err != nil {
		return nil, err
	}
	s := &Service{
		secret:       []byte(cfg.JWTSecret),
		alg:          alg,
		audience:     cfg.JWTAudience,
		accessTTL:    cfg.AccessTokenTTL,
		refreshTTL:   cfg.RefreshTokenTTL,
		store:        store,
		revokeFamily: cfg.RevokeFamilyOnReuse,
		logger:       logger,
		tracer:       otel.Tracer("github.com/smallbiznis/authcore/internal/token"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func hmacAlgorithm(name string) (gojose.SignatureAlgorithm, error) {
	switch name {
	case "HS256":
		return gojose.HS256, nil
	case "HS384":
		return gojose.HS384, nil
	case "HS512":
		return gojose.HS512, nil
	default:
		return "", fmt.Errorf("token: unsupported signing algorithm %q", name)
	}
}

// Issue creates a new pair for the user and registers its rotation
// identifier with TTL equal to the refresh lifetime.
func (s *Service) Issue(ctx context.Context, user domain.User, roles []string) (Pair, error) {
	ctx, span := s.startSpan(ctx, "token.Issue")
	defer span.End()

	rotation := uuid.NewString()
	if err := s.store.Register(ctx, Record{
		ID:        rotation,
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}); err != nil {
		span.RecordError(err)
		return Pair{}, fmt.Errorf("register rotation: %w", err)
	}

	return s.signPair(user, roles, rotation)
}

// Verify checks signature, expiry, audience, and kind, then consults the
// store so revoked pairs fail even before their exp claim.
func (s *Service) Verify(ctx context.Context, raw string, kind Kind) (Claims, error) {
	claims, err := s.parse(raw, kind)
	if err != nil {
		return Claims{}, err
	}

	status, err := s.store.Status(ctx, claims.Rotation)
	if err != nil {
		return Claims{}, fmt.Errorf("rotation status: %w", err)
	}
	if status == StatusRevoked {
		return Claims{}, ErrRevoked
	}
	return claims, nil
}

// Rotate exchanges a verified refresh rotation identifier for a new pair.
// The swap is conditional on the identifier still being active: a concurrent
// or repeated exchange of the same identifier gets ErrReuseDetected, and the
// user's whole token family is revoked when configured to treat reuse as
// theft. The retire-and-register happens in one store operation, so caller
// cancellation cannot leave a half-rotated pair.
func (s *Service) Rotate(ctx context.Context, rotationID string, user domain.User, roles []string) (Pair, error) {
	ctx, span := s.startSpan(ctx, "token.Rotate")
	defer span.End()

	next := Record{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	prev, err := s.store.Rotate(ctx, rotationID, next)
	if err != nil {
		span.RecordError(err)
		return Pair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	switch prev {
	case StatusActive:
		return s.signPair(user, roles, next.ID)
	case StatusRotated:
		s.log().Warn("refresh token reuse detected",
			zap.Int64("user_id", user.ID),
			zap.String("rotation_id", rotationID),
		)
		if s.revokeFamily {
			if err := s.store.RevokeUser(ctx, user.ID); err != nil {
				s.log().Error("revoke token family", zap.Error(err), zap.Int64("user_id", user.ID))
			}
		}
		return Pair{}, ErrReuseDetected
	default:
		return Pair{}, ErrRevoked
	}
}

// Revoke invalidates every outstanding pair belonging to the user.
func (s *Service) Revoke(ctx context.Context, userID int64) error {
	ctx, span := s.startSpan(ctx, "token.Revoke")
	defer span.End()
	if err := s.store.RevokeUser(ctx, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// RevokeRotation invalidates a single pair by its rotation identifier.
func (s *Service) RevokeRotation(ctx context.Context, rotationID string) error {
	if err := s.store.Revoke(ctx, rotationID); err != nil {
		return fmt.Errorf("revoke rotation: %w", err)
	}
	return nil
}

func (s *Service) signPair(user domain.User, roles []string, rotation string) (Pair, error) {
	access, err := s.sign(user, roles, rotation, KindAccess, s.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(user, roles, rotation, KindRefresh, s.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) sign(user domain.User, roles []string, rotation string, kind Kind, ttl time.Duration) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: s.alg, Key: s.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := s.now().UTC()
	std := gojwt.Claims{
		Subject:  strconv.FormatInt(user.ID, 10),
		Audience: gojwt.Audience{s.audience},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := customClaims{
		Kind:     kind,
		Rotation: rotation,
		Email:    user.Email,
		Roles:    roles,
		Staff:    user.Staff,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

func (s *Service) parse(raw string, kind Kind) (Claims, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{s.alg})
	if err != nil {
		return Claims{}, ErrMalformed
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(s.secret, &std, &custom); err != nil {
		if errors.Is(err, gojose.ErrCryptoFailure) {
			return Claims{}, ErrSignatureInvalid
		}
		return Claims{}, ErrMalformed
	}

	err = std.ValidateWithLeeway(gojwt.Expected{
		AnyAudience: gojwt.Audience{s.audience},
		Time:        s.now(),
	}, 0)
	switch {
	case err == nil:
	case errors.Is(err, gojwt.ErrExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, gojwt.ErrInvalidAudience):
		return Claims{}, ErrAudience
	default:
		return Claims{}, ErrMalformed
	}

	if custom.Kind != kind {
		return Claims{}, ErrKindMismatch
	}
	if custom.Rotation == "" {
		return Claims{}, ErrMalformed
	}
	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	claims := Claims{
		UserID:   userID,
		Kind:     custom.Kind,
		Rotation: custom.Rotation,
		Email:    custom.Email,
		Roles:    custom.Roles,
		Staff:    custom.Staff,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.ExpiresAt = std.Expiry.Time()
	}
	return claims, nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
