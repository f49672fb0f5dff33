package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Identity is the subset of provider claims the login flow needs
type Identity struct {
	Subject  string
	Email    string
	Verified bool
	Name     string
}

// OIDCAuthenticator verifies logins against an external OpenID Connect
// provider. Doorstep keeps no passwords; the provider owns credentials
// and this layer only exchanges a verified identity for a session.
type OIDCAuthenticator struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	config   oauth2.Config
}

// NewOIDCAuthenticator discovers the provider and prepares the code flow
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

// AuthCodeURL returns the provider URL to redirect the browser to
func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified identity
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("provider response missing id_token")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims struct {
		Email    string `json:"email"`
		Verified bool   `json:"email_verified"`
		Name     string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id_token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("id_token has no email claim")
	}

	return &Identity{
		Subject:  idToken.Subject,
		Email:    claims.Email,
		Verified: claims.Verified,
		Name:     claims.Name,
	}, nil
}
