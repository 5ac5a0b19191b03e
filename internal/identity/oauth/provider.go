// Package oauth runs the authorization code flow against Google and Facebook and turns the result
// into an ExternalProfile for the auth service.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/Svyat0y/form-builder-backend/internal/identity/domain"
)

const (
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
	facebookProfileURL = "https://graph.facebook.com/me?fields=id,name,email"
)

// ErrUnknownProvider is returned for providers that are not configured.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// Provider is one configured OAuth provider.
type Provider struct {
	Name       domain.IdentityProvider
	config     *oauth2.Config
	profileURL string
	decode     func([]byte) (domain.ExternalProfile, error)
}

// NewGoogle returns the Google provider, or nil when clientID is empty.
func NewGoogle(clientID, clientSecret, callbackURL string) *Provider {
	if clientID == "" {
		return nil
	}
	return &Provider{
		Name: domain.IdentityProviderGoogle,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		profileURL: googleUserInfoURL,
		decode:     decodeGoogle,
	}
}

// NewFacebook returns the Facebook provider, or nil when clientID is empty.
func NewFacebook(clientID, clientSecret, callbackURL string) *Provider {
	if clientID == "" {
		return nil
	}
	return &Provider{
		Name: domain.IdentityProviderFacebook,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     facebook.Endpoint,
			Scopes:       []string{"email", "public_profile"},
		},
		profileURL: facebookProfileURL,
		decode:     decodeFacebook,
	}
}

// AuthCodeURL returns the provider consent URL for state, bound to verifier with PKCE (S256).
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades code for a token and fetches the account profile.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (domain.ExternalProfile, error) {
	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("oauth: exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("oauth: fetch profile: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ExternalProfile{}, fmt.Errorf("oauth: profile returned %s", resp.Status)
	}
	profile, err := p.decode(body)
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	profile.Provider = p.Name
	if profile.ExternalID == "" {
		return domain.ExternalProfile{}, errors.New("oauth: profile has no account id")
	}
	return profile, nil
}

func decodeGoogle(b []byte) (domain.ExternalProfile, error) {
	var v struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("oauth: decode google profile: %w", err)
	}
	p := domain.ExternalProfile{ExternalID: v.Sub, Name: v.Name}
	// Unverified addresses must not be used to link to an existing account.
	if v.EmailVerified {
		p.Email = v.Email
	}
	return p, nil
}

func decodeFacebook(b []byte) (domain.ExternalProfile, error) {
	var v struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("oauth: decode facebook profile: %w", err)
	}
	return domain.ExternalProfile{ExternalID: v.ID, Email: v.Email, Name: v.Name}, nil
}

// Registry holds the configured providers by name.
type Registry map[domain.IdentityProvider]*Provider

// NewRegistry returns a registry of the non-nil providers.
func NewRegistry(providers ...*Provider) Registry {
	r := Registry{}
	for _, p := range providers {
		if p != nil {
			r[p.Name] = p
		}
	}
	return r
}

// Get returns the provider called name.
func (r Registry) Get(name string) (*Provider, error) {
	p, ok := r[domain.IdentityProvider(name)]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}
