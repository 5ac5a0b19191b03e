package domain

import "time"

// Identity is one way a user can sign in: a local password or a linked external provider account.
type Identity struct {
	ID           string
	UserID       string
	Provider     IdentityProvider
	ProviderID   string // email for local, the provider's account id otherwise
	PasswordHash string // empty if not local
	CreatedAt    time.Time
}

type IdentityProvider string

const (
	IdentityProviderLocal    IdentityProvider = "local"
	IdentityProviderGoogle   IdentityProvider = "google"
	IdentityProviderFacebook IdentityProvider = "facebook"
)

// External reports whether p is an OAuth provider.
func (p IdentityProvider) External() bool {
	return p == IdentityProviderGoogle || p == IdentityProviderFacebook
}

// ExternalProfile is the account information returned by an OAuth provider after a successful exchange.
type ExternalProfile struct {
	Provider   IdentityProvider
	ExternalID string
	Email      string
	Name       string
}
