package login

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/authcore/internal/adapter/social"
	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
)

// SocialStrategy exchanges a provider credential for a verified identity and
// maps it onto a directory user. Linking is by email: an existing account with
// the identity's email is reused, otherwise a new one is provisioned when the
// policy allows.
type SocialStrategy struct {
	dir           directory.Directory
	client        social.Client
	providers     map[string]config.SocialProvider
	autoProvision bool
}

// NewSocialStrategy wires the strategy from the configured provider set.
func NewSocialStrategy(dir directory.Directory, client social.Client, cfg config.Config) *SocialStrategy {
	providers := make(map[string]config.SocialProvider, len(cfg.SocialProviders))
	for _, p := range cfg.SocialProviders {
		providers[strings.ToLower(p.Name)] = p
	}
	return &SocialStrategy{
		dir:           dir,
		client:        client,
		providers:     providers,
		autoProvision: cfg.SocialAutoProvision,
	}
}

// Authenticate verifies the credential with the named provider. An identity
// whose email the provider does not assert as verified is rejected without
// creating or touching any account.
func (s *SocialStrategy) Authenticate(ctx context.Context, req Request) (domain.User, error) {
	provider, ok := s.providers[strings.ToLower(req.Provider)]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: unknown provider %q", domain.ErrProvider, req.Provider)
	}

	identity, err := s.client.Exchange(ctx, provider, social.Credential{
		AccessToken: req.AccessToken,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		return domain.User{}, err
	}
	if !identity.EmailVerified {
		return domain.User{}, domain.ErrUnverifiedIdentity
	}
	if identity.Email == "" {
		return domain.User{}, fmt.Errorf("%w: provider returned no email", domain.ErrProvider)
	}

	email := directory.NormalizeEmail(identity.Email)
	user, err := s.dir.FindByEmail(ctx, email)
	if err == nil {
		if !user.Active {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, fmt.Errorf("lookup %s user: %w", provider.Name, err)
	}
	if !s.autoProvision {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	created, err := s.dir.Create(ctx, domain.User{
		Email:      email,
		Name:       identity.Name,
		ProfilePic: identity.Picture,
		Active:     true,
	})
	if err != nil {
		// Lost a provisioning race; the winner's account is the account.
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return s.dir.FindByEmail(ctx, email)
		}
		return domain.User{}, fmt.Errorf("provision %s user: %w", provider.Name, err)
	}
	return created, nil
}
