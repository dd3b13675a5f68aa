package identity

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/tierguard/tierguard/pkg/auth"
)

// OIDCConfig holds the settings for the OIDC verifier
type OIDCConfig struct {
	// IssuerURL is the OpenID Connect issuer used for discovery
	IssuerURL string
	// ClientID is the expected audience of presented ID tokens
	ClientID string
	// SkipIssuerCheck relaxes issuer validation (test environments only)
	SkipIssuerCheck bool
}

// OIDCVerifier verifies ID tokens against an OpenID Connect provider
type OIDCVerifier struct {
	config   *OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider and builds an ID token verifier
func NewOIDCVerifier(ctx context.Context, config *OIDCConfig) (*OIDCVerifier, error) {
	if config == nil || config.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	})

	return &OIDCVerifier{
		config:   config,
		provider: provider,
		verifier: verifier,
	}, nil
}

// Verify checks the raw ID token and maps it to an identity
func (v *OIDCVerifier) Verify(ctx context.Context, rawCredential string) (*auth.Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawCredential)
	if err != nil {
		return nil, classifyVerifyError(err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	// Email is optional; tokens without the claim still authenticate
	_ = idToken.Claims(&claims)

	return &auth.Identity{
		Subject:   idToken.Subject,
		Email:     claims.Email,
		IssuedAt:  idToken.IssuedAt,
		ExpiresAt: idToken.Expiry,
	}, nil
}

// classifyVerifyError maps provider errors into the package taxonomy.
// Network-level failures mean the token was never judged and must not be
// reported as an invalid credential.
func classifyVerifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return UpstreamUnavailable("identity provider timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return UpstreamUnavailable("identity provider unreachable", err)
	}
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return InvalidCredential("token expired", err)
	}
	return InvalidCredential("token verification failed", err)
}
