// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the HTTP API and the query pipeline.
type Config struct {
	DBPath          string // path to the SQLite metadata file
	DatasourcesPath string // path to the YAML datasource registry
	ListenAddr      string // HTTP listen address (default ":8080")
	LogLevel        string // log level: debug, info, warn, error (default "info")
	Env             string // environment: "development" (default) or "production"

	// Query pipeline tuning.
	CacheTTL          time.Duration // ledger reuse window (default 24h)
	HeartbeatInterval time.Duration // running-query heartbeat period (default 30s)
	StaleAfter        time.Duration // heartbeat age before a query is orphaned (default 5m)
	JanitorInterval   time.Duration // stale-query sweep period (default 1m)

	// External stats engine. Empty disables per-variation inference.
	StatsEngineCmd string

	// Auth. APIKeys maps raw key to organization id.
	JWTSecret string
	APIKeys   map[string]string

	// Rate limiting.
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS.
	CORSAllowedOrigins []string // allowed origins (default: ["*"])

	// Warnings collects non-fatal issues found during loading. They are
	// logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads .env (when present) and then the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:          os.Getenv("DB_PATH"),
		DatasourcesPath: os.Getenv("DATASOURCES_PATH"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Env:             os.Getenv("ENV"),
		StatsEngineCmd:  os.Getenv("STATS_ENGINE_CMD"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	cfg.CacheTTL = parseDurationEnv("QUERY_CACHE_TTL", 24*time.Hour)
	cfg.HeartbeatInterval = parseDurationEnv("QUERY_HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.StaleAfter = parseDurationEnv("QUERY_STALE_AFTER", 5*time.Minute)
	cfg.JanitorInterval = parseDurationEnv("QUERY_JANITOR_INTERVAL", time.Minute)

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// API_KEYS is a comma-separated list of key:organization pairs.
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.APIKeys = make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			key, org, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || key == "" || org == "" {
				cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("API_KEYS entry %q is not key:organization", pair))
				continue
			}
			cfg.APIKeys[key] = org
		}
	}

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "exphub.sqlite"
	}
	if cfg.DatasourcesPath == "" {
		cfg.DatasourcesPath = "datasources.yaml"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.JWTSecret == "" && len(cfg.APIKeys) == 0 {
		cfg.Warnings = append(cfg.Warnings, "no JWT_SECRET or API_KEYS configured; the API is unauthenticated")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.JWTSecret == "" && len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("JWT_SECRET or API_KEYS must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
