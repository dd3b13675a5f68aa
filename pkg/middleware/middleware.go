// Package middleware provides the authentication, tier, and quota gate
// wrapped around protected HTTP handlers.
//
// The middleware is the single place where component failures become HTTP
// responses. The packages below it (identity, profile, tiers, usage)
// return typed failures and never format responses themselves.
//
// Per invocation the steps run strictly in order: resolve identity, load
// or create the profile, check the minimum tier, then check usage quota
// when the route enables it. A request reaches its handler only after
// every check configured for the route has passed. No in-process lock is
// held across any of the external calls; quota atomicity lives in the
// usage store.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/tierguard/tierguard/pkg/auth"
	"github.com/tierguard/tierguard/pkg/contextkeys"
	"github.com/tierguard/tierguard/pkg/httputil"
	"github.com/tierguard/tierguard/pkg/identity"
	"github.com/tierguard/tierguard/pkg/observability"
	"github.com/tierguard/tierguard/pkg/profile"
	"github.com/tierguard/tierguard/pkg/tiers"
	"github.com/tierguard/tierguard/pkg/usage"
)

// Stable machine-readable rejection codes. Clients and telemetry dispatch
// on these, never on the human-readable message.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthInvalid      = "AUTH_INVALID"
	CodeAuthUpstreamDown = "AUTH_UPSTREAM_DOWN"
	CodeProfileDown      = "PROFILE_UNAVAILABLE"
	CodeTierInsufficient = "TIER_INSUFFICIENT"
	CodeConfigError      = "CONFIG_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeQuotaDown        = "QUOTA_UPSTREAM_DOWN"
	CodeInternal         = "INTERNAL_ERROR"
)

// RouteConfig is the declarative per-route gate configuration, fixed at
// wrap time.
type RouteConfig struct {
	// RequireAuth gates the route behind authentication. When false the
	// request is forwarded untouched; the bypass is total, no profile or
	// tier lookup happens either.
	RequireAuth bool
	// CheckUsageLimits enforces the caller tier's windowed request quota
	CheckUsageLimits bool
	// MinimumTier, when set, rejects callers below it in the tier ordering
	MinimumTier tiers.Tier
}

// AuthMiddleware orchestrates identity resolution, profile loading, tier
// checks, and quota accounting around wrapped handlers
type AuthMiddleware struct {
	resolver    *identity.Resolver
	profiles    profile.Repository
	registry    *tiers.Registry
	accountant  usage.Accountant
	logger      *observability.Logger
	metrics     *observability.Metrics
	callTimeout time.Duration
}

// Options configures optional middleware behavior
type Options struct {
	// CallTimeout bounds each external call (identity provider, profile
	// store, usage store). A timed-out call is treated as upstream
	// unavailable, never as success.
	CallTimeout time.Duration
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// New creates the middleware over its collaborators
func New(resolver *identity.Resolver, profiles profile.Repository, registry *tiers.Registry, accountant usage.Accountant, opts Options) *AuthMiddleware {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuthMiddleware{
		resolver:    resolver,
		profiles:    profiles,
		registry:    registry,
		accountant:  accountant,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		callTimeout: opts.CallTimeout,
	}
}

// Wrap returns a route decorator enforcing the given configuration.
// The wrapped handler always produces a normal HTTP response; failures
// below the middleware are translated into the structured error body and
// panics are recovered at the boundary.
func (m *AuthMiddleware) Wrap(cfg RouteConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer m.recover(w, r)

			if !cfg.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			ident, ok := m.resolveIdentity(w, r)
			if !ok {
				return
			}

			prof, ok := m.loadProfile(w, r, ident)
			if !ok {
				return
			}

			if cfg.MinimumTier != "" && !prof.Tier.AtLeast(cfg.MinimumTier) {
				m.reject(w, r, http.StatusForbidden, CodeTierInsufficient,
					"tier "+string(prof.Tier)+" does not meet required tier "+string(cfg.MinimumTier))
				return
			}

			ac := &auth.AuthContext{
				Identity: ident,
				Profile:  prof,
				Tier:     prof.Tier,
			}

			if cfg.CheckUsageLimits {
				if !m.checkQuota(w, r, ac) {
					return
				}
			}

			if m.metrics != nil {
				m.metrics.RecordForwarded()
			}
			ctx := contextkeys.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *AuthMiddleware) resolveIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), m.callTimeout)
	defer cancel()

	ident, err := m.resolver.Resolve(ctx, r.Header.Get("Authorization"))
	if err == nil {
		return ident, true
	}

	kind, known := identity.KindOf(err)
	if !known {
		kind = identity.KindUpstreamUnavailable
	}
	switch kind {
	case identity.KindUnauthenticated:
		m.reject(w, r, http.StatusUnauthorized, CodeAuthRequired, "authentication required")
	case identity.KindInvalidCredential:
		m.reject(w, r, http.StatusUnauthorized, CodeAuthInvalid, "invalid or expired credential")
	default:
		m.logger.WithError(err).Warn("identity provider unavailable")
		m.reject(w, r, http.StatusServiceUnavailable, CodeAuthUpstreamDown, "identity provider unavailable")
	}
	return nil, false
}

func (m *AuthMiddleware) loadProfile(w http.ResponseWriter, r *http.Request, ident *auth.Identity) (*auth.Profile, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), m.callTimeout)
	defer cancel()

	prof, err := m.profiles.GetOrCreate(ctx, ident)
	if err != nil {
		m.logger.WithError(err).WithField("subject", ident.Subject).Warn("profile store unavailable")
		m.reject(w, r, http.StatusServiceUnavailable, CodeProfileDown, "profile service unavailable")
		return nil, false
	}
	return prof, true
}

// checkQuota resolves the caller's tier limit and consumes one unit of
// quota. Returns false when the request was rejected.
func (m *AuthMiddleware) checkQuota(w http.ResponseWriter, r *http.Request, ac *auth.AuthContext) bool {
	ctx, cancel := context.WithTimeout(r.Context(), m.callTimeout)
	defer cancel()

	limit, err := m.registry.LimitFor(ctx, ac.Tier)
	if err != nil {
		if tiers.IsConfigError(err) {
			// Deployment defect: a referenced tier has no limit row.
			// Surfaced loudly and never silently treated as unlimited.
			m.logger.WithError(err).WithField("tier", string(ac.Tier)).Error("tier limit configuration error")
			if m.metrics != nil {
				m.metrics.ConfigErrorsTotal.WithLabelValues(string(ac.Tier)).Inc()
			}
			m.reject(w, r, http.StatusInternalServerError, CodeConfigError, "tier limit configuration error")
			return false
		}
		m.logger.WithError(err).Warn("tier limit store unavailable")
		m.reject(w, r, http.StatusServiceUnavailable, CodeQuotaDown, "quota service unavailable")
		return false
	}
	ac.Limit = limit

	decision, err := m.accountant.CheckAndIncrement(ctx, ac.Identity.Subject, limit)
	if err != nil {
		m.logger.WithError(err).Warn("usage store unavailable")
		m.reject(w, r, http.StatusServiceUnavailable, CodeQuotaDown, "quota service unavailable")
		return false
	}

	if m.metrics != nil {
		m.metrics.QuotaDecisionsTotal.WithLabelValues(string(ac.Tier), boolLabel(decision.Allowed)).Inc()
	}
	if !decision.Allowed {
		if m.metrics != nil {
			m.metrics.RecordRejection(CodeRateLimited)
		}
		httputil.WriteRateLimited(w, CodeRateLimited, "rate limit exceeded",
			limit.MaxRequestsPerWindow, decision.RetryAfter)
		return false
	}

	remaining := decision.Remaining
	ac.RemainingQuota = &remaining
	httputil.SetRateLimitHeaders(w, limit.MaxRequestsPerWindow, remaining)
	return true
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if m.metrics != nil {
		m.metrics.RecordRejection(code)
	}
	m.logger.WithFields(map[string]interface{}{
		"request_id": contextkeys.RequestIDFrom(r.Context()),
		"path":       r.URL.Path,
		"code":       code,
		"status":     status,
	}).Debug("request rejected")
	httputil.WriteErrorCode(w, status, code, message)
}

func (m *AuthMiddleware) recover(w http.ResponseWriter, r *http.Request) {
	if rec := recover(); rec != nil {
		m.logger.WithFields(map[string]interface{}{
			"panic": rec,
			"path":  r.URL.Path,
		}).Error("panic in request handling")
		httputil.WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// GetAuthContext extracts the auth context attached to a forwarded request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return contextkeys.AuthFrom(r.Context())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
