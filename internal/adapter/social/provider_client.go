// Package social talks to external identity providers. It is the only place
// that knows OAuth wire details; login strategies see a VerifiedIdentity or a
// typed failure, never a raw HTTP error.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/domain"
)

// VerifiedIdentity is the normalized assertion an external provider makes
// about who the caller is.
type VerifiedIdentity struct {
	Provider      string
	ExternalID    string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// Credential carries whichever proof the client obtained from the provider:
// an access token, or an authorization code plus the redirect it was bound to.
type Credential struct {
	AccessToken string
	Code        string
	RedirectURI string
}

// Client exchanges a provider credential for a verified identity.
type Client interface {
	Exchange(ctx context.Context, provider config.SocialProvider, cred Credential) (VerifiedIdentity, error)
}

// HTTPClient is the default Client over net/http. Outbound calls are bounded
// by the client timeout; a timeout surfaces as domain.ErrProvider, never a
// hung caller.
type HTTPClient struct {
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds the default provider client.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{httpClient: client}
}

// Exchange validates the credential against the provider. An authorization
// code is first swapped for an access token, then the userinfo endpoint
// supplies the identity claims.
func (c *HTTPClient) Exchange(ctx context.Context, provider config.SocialProvider, cred Credential) (VerifiedIdentity, error) {
	accessToken := strings.TrimSpace(cred.AccessToken)
	if accessToken == "" {
		if strings.TrimSpace(cred.Code) == "" {
			return VerifiedIdentity{}, fmt.Errorf("%w: no credential for provider %s", domain.ErrProvider, provider.Name)
		}
		token, err := c.exchangeCode(ctx, provider, cred)
		if err != nil {
			return VerifiedIdentity{}, err
		}
		accessToken = token
	}
	return c.fetchIdentity(ctx, provider, accessToken)
}

func (c *HTTPClient) exchangeCode(ctx context.Context, provider config.SocialProvider, cred Credential) (string, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", cred.Code)
	data.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		data.Set("client_secret", provider.ClientSecret)
	}
	if cred.RedirectURI != "" {
		data.Set("redirect_uri", cred.RedirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", domain.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}

	token := stringValue(raw["access_token"])
	if token == "" {
		return "", fmt.Errorf("%w: empty access token from %s", domain.ErrProvider, provider.Name)
	}
	return token, nil
}

func (c *HTTPClient) fetchIdentity(ctx context.Context, provider config.SocialProvider, accessToken string) (VerifiedIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("%w: build userinfo request: %v", domain.ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	identity := VerifiedIdentity{
		Provider:      provider.Name,
		ExternalID:    stringValue(firstNonEmpty(raw["sub"], raw["id"])),
		Email:         stringValue(raw["email"]),
		Name:          stringValue(firstNonEmpty(raw["name"], raw["login"])),
		Picture:       stringValue(firstNonEmpty(raw["picture"], raw["avatar_url"])),
		EmailVerified: boolValue(raw["email_verified"]),
	}
	if identity.ExternalID == "" || identity.Email == "" {
		return VerifiedIdentity{}, fmt.Errorf("%w: incomplete identity from %s", domain.ErrProvider, provider.Name)
	}
	return identity, nil
}

func (c *HTTPClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrProvider, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err)
	}
	return raw, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	default:
		return ""
	}
}

func boolValue(input any) bool {
	switch v := input.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func firstNonEmpty(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}
