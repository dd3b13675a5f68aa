// Package auth defines the identity and request-scoped authentication types
// shared by the resolver, repository, and middleware layers.
package auth

import (
	"time"

	"github.com/tierguard/tierguard/pkg/tiers"
)

// Identity is a verified external identity. It is produced per request by
// the identity resolver and never persisted.
type Identity struct {
	// Subject is the opaque subject identifier issued by the provider
	Subject string `json:"subject"`
	// Email is the provider-verified email claim, if present
	Email     string    `json:"email,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Profile is the durable account record keyed by identity subject.
// Exactly one profile exists per subject; it is created on first
// successful authentication and mutated only through the repository.
type Profile struct {
	ID        string            `json:"id"`
	Email     string            `json:"email,omitempty"`
	Tier      tiers.Tier        `json:"tier"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuthContext is the augmented view attached to an authenticated request.
// It is created fresh per request and discarded at request end.
type AuthContext struct {
	Identity *Identity    `json:"identity"`
	Profile  *Profile     `json:"profile"`
	Tier     tiers.Tier   `json:"tier"`
	Limit    *tiers.Limit `json:"-"`
	// RemainingQuota is set only when the route checked usage limits
	RemainingQuota *int `json:"remaining_quota,omitempty"`
}

// HasFeature reports whether the caller's tier enables a feature flag
func (ac *AuthContext) HasFeature(name string) bool {
	if ac.Limit == nil {
		return false
	}
	return ac.Limit.HasFeature(name)
}
