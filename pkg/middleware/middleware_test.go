package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tierguard/tierguard/pkg/auth"
	"github.com/tierguard/tierguard/pkg/httputil"
	"github.com/tierguard/tierguard/pkg/identity"
	"github.com/tierguard/tierguard/pkg/observability"
	"github.com/tierguard/tierguard/pkg/tiers"
	"github.com/tierguard/tierguard/pkg/usage"
)

type stubVerifier struct {
	identity *auth.Identity
	err      error
}

func (v *stubVerifier) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	return v.identity, v.err
}

type stubProfiles struct {
	profile *auth.Profile
	err     error
}

func (p *stubProfiles) GetOrCreate(ctx context.Context, ident *auth.Identity) (*auth.Profile, error) {
	return p.profile, p.err
}

func (p *stubProfiles) Get(ctx context.Context, subject string) (*auth.Profile, error) {
	return p.profile, p.err
}

type stubAccountant struct {
	decision *usage.Decision
	err      error
	calls    int
}

func (a *stubAccountant) CheckAndIncrement(ctx context.Context, id string, limit *tiers.Limit) (*usage.Decision, error) {
	a.calls++
	return a.decision, a.err
}

func (a *stubAccountant) Peek(ctx context.Context, id string, limit *tiers.Limit) (*usage.Decision, error) {
	return a.decision, a.err
}

type mapStore struct {
	limits map[tiers.Tier]*tiers.Limit
	err    error
}

func (s *mapStore) GetTierLimit(ctx context.Context, tier tiers.Tier) (*tiers.Limit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.limits[tier], nil
}

func (s *mapStore) ListTierLimits(ctx context.Context) ([]*tiers.Limit, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*tiers.Limit
	for _, l := range s.limits {
		out = append(out, l)
	}
	return out, nil
}

type fixture struct {
	verifier   *stubVerifier
	profiles   *stubProfiles
	store      *mapStore
	accountant *stubAccountant
	mw         *AuthMiddleware
}

func newFixture() *fixture {
	f := &fixture{
		verifier: &stubVerifier{
			identity: &auth.Identity{Subject: "sub-1", Email: "a@example.com"},
		},
		profiles: &stubProfiles{
			profile: &auth.Profile{ID: "sub-1", Email: "a@example.com", Tier: tiers.TierPro},
		},
		store: &mapStore{limits: map[tiers.Tier]*tiers.Limit{
			tiers.TierFree:  {Tier: tiers.TierFree, MaxRequestsPerWindow: 5, WindowDuration: time.Minute},
			tiers.TierPro:   {Tier: tiers.TierPro, MaxRequestsPerWindow: 100, WindowDuration: time.Minute},
			tiers.TierAdmin: {Tier: tiers.TierAdmin, MaxRequestsPerWindow: 10000, WindowDuration: time.Minute},
		}},
		accountant: &stubAccountant{
			decision: &usage.Decision{Allowed: true, Remaining: 99, RetryAfter: 30 * time.Second},
		},
	}
	f.mw = New(
		identity.NewResolver(f.verifier),
		f.profiles,
		tiers.NewRegistry(f.store, time.Minute),
		f.accountant,
		Options{Logger: observability.NewLogger(observability.ErrorLevel, io.Discard)},
	)
	return f
}

// invoke runs a request through the wrapped route and reports whether the
// inner handler ran.
func (f *fixture) invoke(t *testing.T, cfg RouteConfig, authz string) (*httptest.ResponseRecorder, bool, *auth.AuthContext) {
	t.Helper()
	var (
		handlerRan bool
		captured   *auth.AuthContext
	)
	handler := f.mw.Wrap(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		captured = GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, handlerRan, captured
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestWrap_PublicRouteBypassesEverything(t *testing.T) {
	f := newFixture()
	f.verifier.err = identity.UpstreamUnavailable("provider down", nil)

	rec, ran, ac := f.invoke(t, RouteConfig{RequireAuth: false}, "")
	if !ran {
		t.Fatal("handler should run on a public route")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ac != nil {
		t.Error("no auth context should be attached on the bypass path")
	}
	if f.accountant.calls != 0 {
		t.Error("quota must not be consumed on a public route")
	}
}

func TestWrap_MissingCredential(t *testing.T) {
	f := newFixture()

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true}, "")
	if ran {
		t.Fatal("handler must not run without a credential")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeAuthRequired {
		t.Errorf("code = %s, want %s", body.Code, CodeAuthRequired)
	}
	if body.Timestamp == "" {
		t.Error("error body should carry a timestamp")
	}
}

func TestWrap_InvalidCredential(t *testing.T) {
	f := newFixture()
	f.verifier.err = identity.InvalidCredential("token expired", nil)

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true}, "Bearer expired")
	if ran {
		t.Fatal("handler must not run with a bad credential")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeAuthInvalid {
		t.Errorf("code = %s, want %s", body.Code, CodeAuthInvalid)
	}
}

func TestWrap_MalformedAuthorizationHeader(t *testing.T) {
	f := newFixture()

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true}, "Basic dXNlcjpwYXNz")
	if ran {
		t.Fatal("handler must not run with a malformed header")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeAuthInvalid {
		t.Errorf("code = %s, want %s", body.Code, CodeAuthInvalid)
	}
}

func TestWrap_IdentityProviderDown(t *testing.T) {
	f := newFixture()
	f.verifier.err = identity.UpstreamUnavailable("connection refused", errors.New("dial tcp"))

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true}, "Bearer tok")
	if ran {
		t.Fatal("handler must not run during a provider outage")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeAuthUpstreamDown {
		t.Errorf("code = %s, want %s", body.Code, CodeAuthUpstreamDown)
	}
}

func TestWrap_ProfileStoreDown(t *testing.T) {
	f := newFixture()
	f.profiles.profile = nil
	f.profiles.err = errors.New("connection refused")

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true}, "Bearer tok")
	if ran {
		t.Fatal("handler must not run when the profile store is down")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeProfileDown {
		t.Errorf("code = %s, want %s", body.Code, CodeProfileDown)
	}
}

func TestWrap_MinimumTier(t *testing.T) {
	tests := []struct {
		name       string
		callerTier tiers.Tier
		minimum    tiers.Tier
		wantStatus int
	}{
		{"free below pro", tiers.TierFree, tiers.TierPro, http.StatusForbidden},
		{"pro meets pro", tiers.TierPro, tiers.TierPro, http.StatusOK},
		{"admin above pro", tiers.TierAdmin, tiers.TierPro, http.StatusOK},
		{"pro below admin", tiers.TierPro, tiers.TierAdmin, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.profiles.profile.Tier = tt.callerTier

			rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true, MinimumTier: tt.minimum}, "Bearer tok")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if ran {
					t.Error("handler must not run below the minimum tier")
				}
				if body := decodeError(t, rec); body.Code != CodeTierInsufficient {
					t.Errorf("code = %s, want %s", body.Code, CodeTierInsufficient)
				}
			} else if !ran {
				t.Error("handler should run at or above the minimum tier")
			}
		})
	}
}

func TestWrap_QuotaAllowed(t *testing.T) {
	f := newFixture()

	rec, ran, ac := f.invoke(t, RouteConfig{RequireAuth: true, CheckUsageLimits: true}, "Bearer tok")
	if !ran {
		t.Fatal("handler should run with quota available")
	}
	if f.accountant.calls != 1 {
		t.Errorf("accountant called %d times, want 1", f.accountant.calls)
	}
	if ac == nil {
		t.Fatal("auth context should be attached")
	}
	if ac.RemainingQuota == nil || *ac.RemainingQuota != 99 {
		t.Errorf("RemainingQuota = %v, want 99", ac.RemainingQuota)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("X-RateLimit-Remaining = %s, want 99", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %s, want 100", got)
	}
}

func TestWrap_QuotaExhausted(t *testing.T) {
	f := newFixture()
	f.accountant.decision = &usage.Decision{Allowed: false, Remaining: 0, RetryAfter: 42 * time.Second}

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true, CheckUsageLimits: true}, "Bearer tok")
	if ran {
		t.Fatal("handler must not run over quota")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %s, want 42", got)
	}

	body := decodeError(t, rec)
	if body.Code != CodeRateLimited {
		t.Errorf("code = %s, want %s", body.Code, CodeRateLimited)
	}
	if body.Remaining == nil || *body.Remaining != 0 {
		t.Errorf("remaining = %v, want 0", body.Remaining)
	}
	if body.RetryAfterSeconds == nil || *body.RetryAfterSeconds != 42 {
		t.Errorf("retry_after_seconds = %v, want 42", body.RetryAfterSeconds)
	}
}

func TestWrap_QuotaStoreDown(t *testing.T) {
	f := newFixture()
	f.accountant.decision = nil
	f.accountant.err = usage.ErrUnavailable

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true, CheckUsageLimits: true}, "Bearer tok")
	if ran {
		t.Fatal("enforcement fails closed when the usage store is down")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeQuotaDown {
		t.Errorf("code = %s, want %s", body.Code, CodeQuotaDown)
	}
}

func TestWrap_MissingTierLimitRow(t *testing.T) {
	f := newFixture()
	delete(f.store.limits, tiers.TierPro)

	rec, ran, _ := f.invoke(t, RouteConfig{RequireAuth: true, CheckUsageLimits: true}, "Bearer tok")
	if ran {
		t.Fatal("a missing limit row must never be treated as unlimited")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeConfigError {
		t.Errorf("code = %s, want %s", body.Code, CodeConfigError)
	}
	if f.accountant.calls != 0 {
		t.Error("quota must not be consumed on a configuration error")
	}
}

func TestWrap_NoLimitCheckWhenDisabled(t *testing.T) {
	f := newFixture()

	_, ran, ac := f.invoke(t, RouteConfig{RequireAuth: true}, "Bearer tok")
	if !ran {
		t.Fatal("handler should run")
	}
	if f.accountant.calls != 0 {
		t.Error("quota must not be consumed when the route disables usage checks")
	}
	if ac == nil {
		t.Fatal("auth context should be attached")
	}
	if ac.RemainingQuota != nil {
		t.Error("RemainingQuota should be unset without a usage check")
	}
}

func TestWrap_RecoversHandlerPanic(t *testing.T) {
	f := newFixture()
	handler := f.mw.Wrap(RouteConfig{RequireAuth: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeInternal {
		t.Errorf("code = %s, want %s", body.Code, CodeInternal)
	}
}

func TestWrap_AuthContextContents(t *testing.T) {
	f := newFixture()

	_, _, ac := f.invoke(t, RouteConfig{RequireAuth: true, CheckUsageLimits: true}, "Bearer tok")
	if ac == nil {
		t.Fatal("auth context should be attached")
	}
	if ac.Identity == nil || ac.Identity.Subject != "sub-1" {
		t.Errorf("Identity = %+v, want subject sub-1", ac.Identity)
	}
	if ac.Profile == nil || ac.Profile.ID != "sub-1" {
		t.Errorf("Profile = %+v, want id sub-1", ac.Profile)
	}
	if ac.Tier != tiers.TierPro {
		t.Errorf("Tier = %s, want pro", ac.Tier)
	}
	if ac.Limit == nil || ac.Limit.MaxRequestsPerWindow != 100 {
		t.Errorf("Limit = %+v, want the pro limit", ac.Limit)
	}
}
