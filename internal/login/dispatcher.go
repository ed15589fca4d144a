package login

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/domain"
)

// Method names the strategy a request resolved to.
type Method string

const (
	MethodPassword     Method = "password"
	MethodSocial       Method = "social"
	MethodPasswordless Method = "passwordless"
)

// Dispatcher routes a login request to a strategy by its shape: a provider
// name selects social, a one-time code selects passwordless verification, and
// an email/password pair selects the password strategy.
type Dispatcher struct {
	password     *PasswordStrategy
	social       *SocialStrategy
	passwordless *PasswordlessStrategy
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewDispatcher wires the three strategies.
func NewDispatcher(password *PasswordStrategy, social *SocialStrategy, passwordless *PasswordlessStrategy, logger *zap.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		password:     password,
		social:       social,
		passwordless: passwordless,
		logger:       logger,
		tracer:       tracer,
	}
}

// Resolve reports which strategy a request selects without running it.
func Resolve(req Request) Method {
	switch {
	case req.Provider != "":
		return MethodSocial
	case req.OneTimeCode != "":
		return MethodPasswordless
	default:
		return MethodPassword
	}
}

// Authenticate runs the selected strategy. Failures are always one of the
// typed values in internal/domain; the method is logged but never surfaced in
// the error so responses stay uniform across strategies.
func (d *Dispatcher) Authenticate(ctx context.Context, req Request) (domain.User, error) {
	method := Resolve(req)
	ctx, span := d.startSpan(ctx, "login.Authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("login.method", string(method)))

	var (
		user domain.User
		err  error
	)
	switch method {
	case MethodSocial:
		user, err = d.social.Authenticate(ctx, req)
	case MethodPasswordless:
		user, err = d.passwordless.Verify(ctx, req.Email, req.OneTimeCode)
	default:
		user, err = d.password.Authenticate(ctx, req.Email, req.Password)
	}
	if err != nil {
		d.log().Info("login rejected",
			zap.String("method", string(method)),
			zap.Error(err),
		)
		return domain.User{}, err
	}

	d.log().Info("login accepted",
		zap.String("method", string(method)),
		zap.Int64("user_id", user.ID),
	)
	return user, nil
}

// RequestCode starts the passwordless flow for an address.
func (d *Dispatcher) RequestCode(ctx context.Context, email string) error {
	ctx, span := d.startSpan(ctx, "login.RequestCode")
	defer span.End()
	return d.passwordless.RequestCode(ctx, email)
}

// IssueVerificationCode sends a signup verification code. Unlike RequestCode
// it works even when self-service passwordless login is disabled.
func (d *Dispatcher) IssueVerificationCode(ctx context.Context, email string) error {
	ctx, span := d.startSpan(ctx, "login.IssueVerificationCode")
	defer span.End()
	return d.passwordless.IssueCode(ctx, email, "Verify your email")
}

func (d *Dispatcher) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return d.tracer.Start(ctx, name)
}

func (d *Dispatcher) log() *zap.Logger {
	if d.logger != nil {
		return d.logger
	}
	return zap.L()
}
