// Package tiers defines the subscription tier ordering and the tier limit
// registry backing quota enforcement.
//
// The ordering defined here is the single source of truth for tier
// comparisons. Both the server middleware (pkg/middleware) and the
// presentation-layer guard (pkg/guard) delegate to it, so the two can
// never drift apart.
package tiers

import (
	"fmt"
	"time"
)

// Tier represents a subscription tier
type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierAdmin Tier = "admin"
)

// DefaultTier is assigned to profiles created on first authentication
const DefaultTier = TierFree

// rank defines the total order over tiers: free < pro < admin
var rank = map[Tier]int{
	TierFree:  0,
	TierPro:   1,
	TierAdmin: 2,
}

// ParseTier validates a tier name against the closed set
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := rank[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Valid reports whether the tier is a member of the closed set
func (t Tier) Valid() bool {
	_, ok := rank[t]
	return ok
}

// AtLeast reports whether t is greater than or equal to other in the
// tier ordering. An unknown tier is never sufficient.
func (t Tier) AtLeast(other Tier) bool {
	tr, ok := rank[t]
	if !ok {
		return false
	}
	or, ok := rank[other]
	if !ok {
		return false
	}
	return tr >= or
}

// All returns the tiers in ascending order
func All() []Tier {
	return []Tier{TierFree, TierPro, TierAdmin}
}

// Limit holds the quota parameters for a tier
type Limit struct {
	Tier                 Tier            `json:"tier"`
	MaxRequestsPerWindow int             `json:"max_requests_per_window"`
	WindowDuration       time.Duration   `json:"window_duration"`
	FeatureFlags         map[string]bool `json:"feature_flags,omitempty"`
}

// HasFeature reports whether the limit enables a named feature flag
func (l *Limit) HasFeature(name string) bool {
	return l.FeatureFlags[name]
}

// ConfigError indicates a tier referenced by a profile has no limit row.
// This is a deployment defect, not a client-caused condition, and is
// surfaced as a 500-class response distinct from ordinary rejections.
type ConfigError struct {
	Tier Tier
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no tier limit configured for tier %q", e.Tier)
}

// IsConfigError checks if an error is a tier configuration error
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}
