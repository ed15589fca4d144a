// Package service orchestrates the authentication flows: signup, the three
// login strategies, refresh rotation, and revocation. Handlers stay thin;
// everything that touches more than one dependency lives here.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/login"
	"github.com/smallbiznis/authcore/internal/password"
	"github.com/smallbiznis/authcore/internal/token"
)

// TokenResponse is the issued pair as returned to clients.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SignupResponse carries tokens when the account is immediately usable, or a
// message when email verification gates the first login.
type SignupResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SignupRequest is the local-account registration input.
type SignupRequest struct {
	Email    string
	Name     string
	Password string
}

// Profile is the authenticated user view returned by Me.
type Profile struct {
	ID         int64    `json:"id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	ProfilePic string   `json:"profile_pic,omitempty"`
	Staff      bool     `json:"is_staff"`
	Roles      []string `json:"roles"`
}

// AuthService encapsulates the authentication flows.
type AuthService struct {
	dir        directory.Directory
	dispatcher *login.Dispatcher
	tokens     *token.Service
	hasher     *password.Hasher
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(dir directory.Directory, dispatcher *login.Dispatcher, tokens *token.Service, hasher *password.Hasher, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		dir:        dir,
		dispatcher: dispatcher,
		tokens:     tokens,
		hasher:     hasher,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/smallbiznis/authcore/internal/service"),
	}
}

// Signup registers a local account. When email verification is required the
// response carries no tokens; the user completes the flow by verifying the
// mailed one-time code, which logs them in.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Signup")
	defer span.End()

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.dir.Create(ctx, domain.User{
		Email:        directory.NormalizeEmail(req.Email),
		Name:         req.Name,
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.audit("signup.success", "user_id", user.ID)

	if s.cfg.EmailVerificationRequired {
		if err := s.dispatcher.IssueVerificationCode(ctx, user.Email); err != nil {
			span.RecordError(err)
			return nil, err
		}
		return &SignupResponse{Message: "Verification code sent. Check your email to finish signing in."}, nil
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &SignupResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL / time.Second),
	}, nil
}

// Login dispatches the request to a strategy and issues a pair on success.
func (s *AuthService) Login(ctx context.Context, req login.Request) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.dispatcher.Authenticate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.audit("login.success", "user_id", user.ID, "method", string(login.Resolve(req)))
	return s.respond(pair), nil
}

// RequestLoginCode starts the passwordless flow.
func (s *AuthService) RequestLoginCode(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "AuthService.RequestLoginCode")
	defer span.End()
	if err := s.dispatcher.RequestCode(ctx, email); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("passwordless.code.requested")
	return nil
}

// Refresh exchanges a refresh token for a fresh pair. The user is re-read so
// role changes and deactivation take effect at rotation time, not only at
// access-token expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	claims, err := s.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	user, err := s.dir.FindByID(ctx, claims.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, token.ErrRevoked
	}
	if !user.Active {
		return nil, token.ErrRevoked
	}

	roles, err := s.dir.Roles(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load roles: %w", err)
	}

	pair, err := s.tokens.Rotate(ctx, claims.Rotation, user, roles)
	if err != nil {
		if errors.Is(err, token.ErrReuseDetected) {
			s.audit("refresh.reuse_detected", "user_id", user.ID)
		}
		span.RecordError(err)
		return nil, err
	}
	s.audit("refresh.success", "user_id", user.ID)
	return s.respond(pair), nil
}

// Logout revokes the pair the presented refresh token belongs to. Revoking an
// already-revoked pair succeeds; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	claims, err := s.tokens.Verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			return nil
		}
		span.RecordError(err)
		return err
	}
	if err := s.tokens.RevokeRotation(ctx, claims.Rotation); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("logout.success", "user_id", claims.UserID)
	return nil
}

// RevokeAll invalidates every outstanding pair for the user.
func (s *AuthService) RevokeAll(ctx context.Context, userID int64) error {
	ctx, span := s.startSpan(ctx, "AuthService.RevokeAll")
	defer span.End()
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("revoke_all.success", "user_id", userID)
	return nil
}

// Me resolves the authenticated profile from verified access-token claims.
func (s *AuthService) Me(ctx context.Context, claims token.Claims) (*Profile, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Me")
	defer span.End()

	user, err := s.dir.FindByID(ctx, claims.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, token.ErrRevoked
	}
	if !user.Active {
		return nil, token.ErrRevoked
	}
	roles, err := s.dir.Roles(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return &Profile{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		ProfilePic: user.ProfilePic,
		Staff:      user.Staff,
		Roles:      roles,
	}, nil
}

// VerifyAccess validates a bearer access token for middleware.
func (s *AuthService) VerifyAccess(ctx context.Context, raw string) (token.Claims, error) {
	return s.tokens.Verify(ctx, raw, token.KindAccess)
}

func (s *AuthService) issue(ctx context.Context, user domain.User) (token.Pair, error) {
	roles, err := s.dir.Roles(ctx, user.ID)
	if err != nil {
		return token.Pair{}, fmt.Errorf("load roles: %w", err)
	}
	return s.tokens.Issue(ctx, user, roles)
}

func (s *AuthService) respond(pair token.Pair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL / time.Second),
	}
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
