// Package config loads Cubicler's runtime settings from the environment and
// the three configuration documents (agents, providers, webhooks) from their
// env-var-named sources, with TTL caching and schema validation.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default values for recognized environment variables.
const (
	DefaultPort         = 1503
	DefaultHost         = "0.0.0.0"
	DefaultCacheTTL     = 600 * time.Second
	DefaultCallTimeout  = 30 * time.Second
	DefaultCacheEnabled = true
)

// Env var names for the three config document sources.
const (
	EnvAgentsList    = "CUBICLER_AGENTS_LIST"
	EnvProvidersList = "CUBICLER_PROVIDERS_LIST"
	EnvWebhooksList  = "CUBICLER_WEBHOOKS_LIST"
)

// Config holds all environment-driven settings for the Cubicler server.
type Config struct {
	Port    int
	Host    string
	Version string

	EnableCORS  bool
	CallTimeout time.Duration

	AgentsCache    CacheConfig
	ProvidersCache CacheConfig
	WebhooksCache  CacheConfig

	Telemetry TelemetryConfig
	LogLevel  string
}

// CacheConfig controls one document cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with defaults.
// Unknown variables are ignored.
func Load() *Config {
	return &Config{
		Port:        envInt("CUBICLER_PORT", DefaultPort),
		Host:        envStr("CUBICLER_HOST", DefaultHost),
		Version:     envStr("CUBICLER_VERSION", "2.0.0"),
		EnableCORS:  envBool("ENABLE_CORS", false),
		CallTimeout: envSeconds("DEFAULT_CALL_TIMEOUT", DefaultCallTimeout),
		AgentsCache: CacheConfig{
			Enabled: envBool("AGENTS_LIST_CACHE_ENABLED", DefaultCacheEnabled),
			TTL:     envSeconds("AGENTS_LIST_CACHE_TIMEOUT", DefaultCacheTTL),
		},
		ProvidersCache: CacheConfig{
			Enabled: envBool("PROVIDERS_LIST_CACHE_ENABLED", DefaultCacheEnabled),
			TTL:     envSeconds("PROVIDERS_LIST_CACHE_TIMEOUT", DefaultCacheTTL),
		},
		WebhooksCache: CacheConfig{
			Enabled: envBool("WEBHOOKS_LIST_CACHE_ENABLED", DefaultCacheEnabled),
			TTL:     envSeconds("WEBHOOKS_LIST_CACHE_TIMEOUT", DefaultCacheTTL),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "cubicler"),
		},
		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
