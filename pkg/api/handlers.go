// Package api assembles the HTTP surface: diagnostic endpoints for auth
// introspection plus the demo protected route. Every protected endpoint
// goes through the auth middleware; none of them is a separate trust path.
package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tierguard/tierguard/pkg/httputil"
	"github.com/tierguard/tierguard/pkg/middleware"
	"github.com/tierguard/tierguard/pkg/tiers"
	"github.com/tierguard/tierguard/pkg/usage"
)

// Handlers holds the diagnostic endpoint handlers
type Handlers struct {
	registry   *tiers.Registry
	accountant usage.Accountant
	logger     *logrus.Logger
}

// NewHandlers creates the diagnostic handlers
func NewHandlers(registry *tiers.Registry, accountant usage.Accountant, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		registry:   registry,
		accountant: accountant,
		logger:     logger,
	}
}

// WhoAmI returns the resolved authentication context for the caller
func (h *Handlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)
	if ac == nil {
		// Only reachable if the route was wired without the middleware
		httputil.WriteErrorCode(w, http.StatusUnauthorized, middleware.CodeAuthRequired, "authentication required")
		return
	}
	httputil.WriteSuccess(w, ac)
}

// limitsResponse describes the caller's quota standing
type limitsResponse struct {
	Tier                 tiers.Tier      `json:"tier"`
	MaxRequestsPerWindow int             `json:"max_requests_per_window"`
	WindowSeconds        int             `json:"window_seconds"`
	Remaining            int             `json:"remaining"`
	ResetsIn             string          `json:"resets_in"`
	FeatureFlags         map[string]bool `json:"feature_flags,omitempty"`
}

// Limits reports the caller's tier limit and current consumption without
// consuming any quota
func (h *Handlers) Limits(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)
	if ac == nil {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, middleware.CodeAuthRequired, "authentication required")
		return
	}

	limit, err := h.registry.LimitFor(r.Context(), ac.Tier)
	if err != nil {
		if tiers.IsConfigError(err) {
			httputil.WriteErrorCode(w, http.StatusInternalServerError, middleware.CodeConfigError, "tier limit configuration error")
			return
		}
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, middleware.CodeQuotaDown, "quota service unavailable")
		return
	}

	decision, err := h.accountant.Peek(r.Context(), ac.Identity.Subject, limit)
	if err != nil {
		h.logger.WithError(err).Warn("usage peek failed")
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, middleware.CodeQuotaDown, "quota service unavailable")
		return
	}

	httputil.WriteSuccess(w, limitsResponse{
		Tier:                 ac.Tier,
		MaxRequestsPerWindow: limit.MaxRequestsPerWindow,
		WindowSeconds:        int(limit.WindowDuration / time.Second),
		Remaining:            decision.Remaining,
		ResetsIn:             decision.RetryAfter.String(),
		FeatureFlags:         limit.FeatureFlags,
	})
}

// ListTierLimits returns every configured tier limit row (admin only,
// enforced by the route's MinimumTier)
func (h *Handlers) ListTierLimits(w http.ResponseWriter, r *http.Request) {
	limits := make([]*tiers.Limit, 0, len(tiers.All()))
	for _, tier := range tiers.All() {
		limit, err := h.registry.LimitFor(r.Context(), tier)
		if err != nil {
			if tiers.IsConfigError(err) {
				h.logger.WithField("tier", string(tier)).Error("tier limit row missing")
				httputil.WriteErrorCode(w, http.StatusInternalServerError, middleware.CodeConfigError, "tier limit configuration error")
				return
			}
			httputil.WriteErrorCode(w, http.StatusServiceUnavailable, middleware.CodeQuotaDown, "quota service unavailable")
			return
		}
		limits = append(limits, limit)
	}
	httputil.WriteSuccess(w, limits)
}

// Echo is a demo protected endpoint exercising the full middleware chain
// including quota consumption
func (h *Handlers) Echo(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)
	resp := map[string]interface{}{
		"message": "ok",
	}
	if ac != nil {
		resp["subject"] = ac.Identity.Subject
		resp["tier"] = ac.Tier
		if ac.RemainingQuota != nil {
			resp["remaining"] = *ac.RemainingQuota
		}
	}
	httputil.WriteSuccess(w, resp)
}
