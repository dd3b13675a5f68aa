package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tierguard/tierguard/pkg/middleware"
	"github.com/tierguard/tierguard/pkg/observability"
	"github.com/tierguard/tierguard/pkg/tiers"
	"github.com/tierguard/tierguard/pkg/usage"
)

// RouterDeps holds everything the router wires together
type RouterDeps struct {
	Auth       *middleware.AuthMiddleware
	Registry   *tiers.Registry
	Accountant usage.Accountant
	Logger     *observability.Logger
	AppLogger  *logrus.Logger
	Metrics    *observability.Metrics
}

// NewRouter builds the main API router. Route gate configurations are
// declared here, next to the routes they protect.
func NewRouter(deps RouterDeps) *mux.Router {
	handlers := NewHandlers(deps.Registry, deps.Accountant, deps.AppLogger)

	router := mux.NewRouter()
	router.Use(observability.RequestMiddleware(deps.Logger, deps.Metrics))

	authOnly := deps.Auth.Wrap(middleware.RouteConfig{
		RequireAuth: true,
	})
	metered := deps.Auth.Wrap(middleware.RouteConfig{
		RequireAuth:      true,
		CheckUsageLimits: true,
	})
	adminOnly := deps.Auth.Wrap(middleware.RouteConfig{
		RequireAuth: true,
		MinimumTier: tiers.TierAdmin,
	})

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Handle("/auth/whoami", authOnly(http.HandlerFunc(handlers.WhoAmI))).Methods(http.MethodGet)
	v1.Handle("/auth/limits", authOnly(http.HandlerFunc(handlers.Limits))).Methods(http.MethodGet)
	v1.Handle("/admin/tier-limits", adminOnly(http.HandlerFunc(handlers.ListTierLimits))).Methods(http.MethodGet)
	v1.Handle("/echo", metered(http.HandlerFunc(handlers.Echo))).Methods(http.MethodGet, http.MethodPost)

	return router
}

// NewHealthRouter builds the probe/metrics router served on the health port
func NewHealthRouter(checker *observability.HealthChecker, metrics *observability.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}
