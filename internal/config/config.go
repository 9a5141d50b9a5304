// Package config loads gateway and edge settings from the environment.
// A .env file is honored when present so local development does not need
// exported variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting of the gateway binary.
type Config struct {
	LogLevel string
	HTTPPort string

	// Firewall behavior
	FirewallEnabled bool
	Mode            string // default policy mode when bootstrapping from file
	AuditFailOpen   bool
	PolicyFile      string // optional YAML bootstrap policy

	// Detector
	DetectorBackend  string // "heuristic" or "remote"
	DetectorEndpoint string
	DetectorAPIKey   string
	DetectorTimeout  time.Duration
	DetectorRetries  int

	// Proxy backend
	BackendURL     string
	BackendTimeout time.Duration
	BackendRetries int

	// Storage
	PostgresDSN   string
	ClickHouseDSN string

	// Auth
	AuthCacheTTL time.Duration

	// Edge
	EdgeURL  string
	EdgePort string

	// Route binding refresh
	RouteRefresh time.Duration
}

// Load reads configuration from the environment, after loading .env if one
// exists. Missing keys fall back to safe defaults; nothing here validates
// reachability of the configured endpoints.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LogLevel: envOrDefault("BASTION_LOG_LEVEL", "info"),
		HTTPPort: envOrDefault("BASTION_HTTP_PORT", "8080"),

		FirewallEnabled: envOrDefaultBool("BASTION_FIREWALL_ENABLED", true),
		Mode:            envOrDefault("BASTION_MODE", "enforce"),
		AuditFailOpen:   envOrDefaultBool("BASTION_AUDIT_FAIL_OPEN", false),
		PolicyFile:      os.Getenv("BASTION_POLICY_FILE"),

		DetectorBackend:  envOrDefault("BASTION_DETECTOR_BACKEND", "heuristic"),
		DetectorEndpoint: os.Getenv("BASTION_DETECTOR_ENDPOINT"),
		DetectorAPIKey:   os.Getenv("BASTION_DETECTOR_API_KEY"),
		DetectorTimeout:  envOrDefaultMs("BASTION_DETECTOR_TIMEOUT_MS", 100),
		DetectorRetries:  envOrDefaultInt("BASTION_DETECTOR_RETRIES", 2),

		BackendURL:     envOrDefault("BASTION_BACKEND_URL", "http://localhost:5001"),
		BackendTimeout: envOrDefaultMs("BASTION_BACKEND_TIMEOUT_MS", 30000),
		BackendRetries: envOrDefaultInt("BASTION_BACKEND_RETRIES", 2),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),

		AuthCacheTTL: time.Duration(envOrDefaultInt("BASTION_AUTH_CACHE_TTL_S", 30)) * time.Second,

		EdgeURL:  os.Getenv("BASTION_EDGE_URL"),
		EdgePort: envOrDefault("BASTION_EDGE_PORT", "8788"),

		RouteRefresh: time.Duration(envOrDefaultInt("BASTION_ROUTE_REFRESH_S", 30)) * time.Second,
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envOrDefaultMs(key string, defaultMs int) time.Duration {
	return time.Duration(envOrDefaultInt(key, defaultMs)) * time.Millisecond
}
