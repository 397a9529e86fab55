package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/middleware"
)

// IDToken is a minimal interface for token payloads that allows extracting claims
// It is satisfied by *oidc.IDToken and by test fakes.
type IDToken interface {
	Claims(v interface{}) error
}

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	ctx      context.Context
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{ctx: ctx, provider: provider, verifier: verifier}, nil
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// ExternalIdentityFromClaims maps standard OIDC claims onto the external
// identity the linking engine consumes. Returns false when the token carries
// no subject.
func ExternalIdentityFromClaims(claims map[string]interface{}) (identity.ExternalIdentity, bool) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return identity.ExternalIdentity{}, false
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	return identity.ExternalIdentity{
		ExternalID:  sub,
		Email:       email,
		ProfileName: name,
		AvatarImage: picture,
	}, true
}
