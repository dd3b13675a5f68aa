// Package guard is the presentation-layer mirror of the server-side tier
// check. It decides whether a view for a required tier should render for a
// caller's current tier, using the same ordering the middleware enforces.
//
// The guard is advisory only. It exists to avoid rendering UI the server
// would reject anyway; every protected operation still passes through the
// authoritative middleware.
package guard

import "github.com/tierguard/tierguard/pkg/tiers"

// Allow reports whether currentTier satisfies requiredTier under the
// canonical tier ordering. Unknown tiers never satisfy anything.
func Allow(requiredTier, currentTier tiers.Tier) bool {
	return currentTier.AtLeast(requiredTier)
}

// Requirement pairs a named view with the tier it needs
type Requirement struct {
	View         string     `json:"view"`
	RequiredTier tiers.Tier `json:"required_tier"`
}

// Visible filters requirements down to the views the caller may render
func Visible(requirements []Requirement, currentTier tiers.Tier) []Requirement {
	var visible []Requirement
	for _, req := range requirements {
		if Allow(req.RequiredTier, currentTier) {
			visible = append(visible, req)
		}
	}
	return visible
}
