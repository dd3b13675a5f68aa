// Package config loads application configuration from environment
// variables with validated defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tierguard/tierguard/pkg/observability"
	"github.com/tierguard/tierguard/pkg/store"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Postgres      store.PostgresConfig
	Redis         store.RedisConfig
	OIDC          OIDCConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// OIDCConfig holds identity provider settings
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

// AuthConfig holds middleware tuning
type AuthConfig struct {
	// CallTimeout bounds each external call made by the middleware
	CallTimeout time.Duration
	// RegistryCacheTTL bounds how stale a cached tier limit may be
	RegistryCacheTTL time.Duration
	// RegistryRefreshInterval drives the background full-table refresh
	RegistryRefreshInterval time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("TIERGUARD_HOST", "0.0.0.0"),
			Port:            getEnv("TIERGUARD_PORT", "8080"),
			ReadTimeout:     getEnvDuration("TIERGUARD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("TIERGUARD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("TIERGUARD_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("TIERGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("TIERGUARD_HEALTH_PORT", "9090"),
		},
		Postgres: store.PostgresConfig{
			URL:             getEnv("TIERGUARD_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("TIERGUARD_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("TIERGUARD_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("TIERGUARD_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: store.RedisConfig{
			URL:        getEnv("TIERGUARD_REDIS_URL", ""),
			Password:   getEnv("TIERGUARD_REDIS_PASSWORD", ""),
			DB:         getEnvInt("TIERGUARD_REDIS_DB", 0),
			MaxRetries: getEnvInt("TIERGUARD_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("TIERGUARD_REDIS_POOL_SIZE", 10),
		},
		OIDC: OIDCConfig{
			IssuerURL: getEnv("TIERGUARD_OIDC_ISSUER", ""),
			ClientID:  getEnv("TIERGUARD_OIDC_CLIENT_ID", ""),
		},
		Auth: AuthConfig{
			CallTimeout:             getEnvDuration("TIERGUARD_CALL_TIMEOUT", 5*time.Second),
			RegistryCacheTTL:        getEnvDuration("TIERGUARD_REGISTRY_CACHE_TTL", 30*time.Second),
			RegistryRefreshInterval: getEnvDuration("TIERGUARD_REGISTRY_REFRESH_INTERVAL", 60*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("TIERGUARD_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("TIERGUARD_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("TIERGUARD_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("TIERGUARD_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("TIERGUARD_OTEL_SERVICE_NAME", "tierguard"),
			OTelServiceVersion: getEnv("TIERGUARD_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("TIERGUARD_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.OIDC.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC client ID is required")
	}
	if c.Auth.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
