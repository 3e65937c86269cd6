package ewelink

import (
	"context"
	"time"
)

// AppIdentity holds the OAuth application credentials issued by the
// eWeLink developer console. Provisioned once and passed explicitly to
// every component that needs it.
type AppIdentity struct {
	AppID     string
	AppSecret string
}

// TokenSet is the credential state resulting from a successful code
// exchange. A token is valid only for the region it was issued from.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Region       Region
	ObtainedAt   time.Time
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token is past its known expiry.
// Tokens without a recorded expiry are assumed valid until the provider
// says otherwise.
func (t *TokenSet) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// TokenStorage defines the interface for credential persistence.
// This interface is implemented by the storage layer to avoid tight coupling.
type TokenStorage interface {
	GetTokens(ctx context.Context) (*TokenSet, error)
	SaveTokens(ctx context.Context, tokens *TokenSet) error
}
