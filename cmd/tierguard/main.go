package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tierguard/tierguard/pkg/api"
	"github.com/tierguard/tierguard/pkg/config"
	"github.com/tierguard/tierguard/pkg/identity"
	"github.com/tierguard/tierguard/pkg/middleware"
	"github.com/tierguard/tierguard/pkg/observability"
	"github.com/tierguard/tierguard/pkg/profile"
	"github.com/tierguard/tierguard/pkg/store"
	"github.com/tierguard/tierguard/pkg/tiers"
	"github.com/tierguard/tierguard/pkg/usage"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("tierguard exited with error")
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.JSONFormatter{})

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, err := store.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to postgres")

	redisClient, err := store.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("Connected to redis")

	verifier, err := identity.NewOIDCVerifier(ctx, &identity.OIDCConfig{
		IssuerURL: cfg.OIDC.IssuerURL,
		ClientID:  cfg.OIDC.ClientID,
	})
	if err != nil {
		return err
	}
	logger.Infof("OIDC provider discovered: %s", cfg.OIDC.IssuerURL)

	registry := tiers.NewRegistry(tiers.NewPostgresStore(db), cfg.Auth.RegistryCacheTTL)
	if err := registry.Refresh(ctx); err != nil {
		// Tolerated at startup; the registry loads lazily on first use
		logger.WithError(err).Warn("initial tier limit refresh failed")
	}
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	registry.StartRefresh(refreshCtx, cfg.Auth.RegistryRefreshInterval, func(err error) {
		logger.WithError(err).Warn("tier limit refresh failed")
	})

	authMiddleware := middleware.New(
		identity.NewResolver(verifier),
		profile.NewPostgresRepository(db),
		registry,
		usage.NewRedisAccountant(redisClient, "usage"),
		middleware.Options{
			CallTimeout: cfg.Auth.CallTimeout,
			Logger:      logger,
			Metrics:     metrics,
		},
	)

	router := api.NewRouter(api.RouterDeps{
		Auth:       authMiddleware,
		Registry:   registry,
		Accountant: usage.NewRedisAccountant(redisClient, "usage"),
		Logger:     logger,
		AppLogger:  appLogger,
		Metrics:    metrics,
	})

	checker := observability.NewHealthChecker(db, redisClient, observability.ReadinessCheck{
		Name: "tier_limits",
		Check: func(ctx context.Context) error {
			if !registry.Loaded() {
				return registry.Refresh(ctx)
			}
			return nil
		},
	})

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "tierguard.http")
	}

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: api.NewHealthRouter(checker, metrics),
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, mainServer, healthServer)
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("Starting tierguard on %s", mainServer.Addr)
		if err := mainServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Starting health server on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}
