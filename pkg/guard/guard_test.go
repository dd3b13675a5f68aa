package guard

import (
	"testing"

	"github.com/tierguard/tierguard/pkg/tiers"
)

func TestAllow(t *testing.T) {
	tests := []struct {
		name     string
		required tiers.Tier
		current  tiers.Tier
		want     bool
	}{
		{"free view, free caller", tiers.TierFree, tiers.TierFree, true},
		{"pro view, free caller", tiers.TierPro, tiers.TierFree, false},
		{"pro view, pro caller", tiers.TierPro, tiers.TierPro, true},
		{"pro view, admin caller", tiers.TierPro, tiers.TierAdmin, true},
		{"admin view, pro caller", tiers.TierAdmin, tiers.TierPro, false},
		{"unknown caller tier", tiers.TierFree, tiers.Tier("enterprise"), false},
		{"unknown required tier", tiers.Tier("enterprise"), tiers.TierAdmin, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allow(tt.required, tt.current); got != tt.want {
				t.Errorf("Allow(%s, %s) = %v, want %v", tt.required, tt.current, got, tt.want)
			}
		})
	}
}

func TestVisible(t *testing.T) {
	requirements := []Requirement{
		{View: "dashboard", RequiredTier: tiers.TierFree},
		{View: "exports", RequiredTier: tiers.TierPro},
		{View: "user-management", RequiredTier: tiers.TierAdmin},
	}

	visible := Visible(requirements, tiers.TierPro)
	if len(visible) != 2 {
		t.Fatalf("got %d visible views, want 2", len(visible))
	}
	if visible[0].View != "dashboard" || visible[1].View != "exports" {
		t.Errorf("unexpected visible views: %+v", visible)
	}

	if got := Visible(requirements, tiers.Tier("unknown")); got != nil {
		t.Errorf("unknown tier should see nothing, got %+v", got)
	}
}
