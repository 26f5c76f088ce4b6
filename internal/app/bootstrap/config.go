package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for sessiongate.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID  string
	HTTPPort   int
	GRPCPort   int
	ContextKey string

	RedisURL string
	// DatabaseURL is optional; without it the audit trail is disabled.
	DatabaseURL string
	MaxDBConns  int32

	// KafkaBrokers is optional; without it events go to the log only.
	KafkaBrokers []string
	KafkaTopic   string

	RefreshEndpointURL string
	RefreshTimeout     time.Duration

	// SealSecret derives the key protecting refresh tokens at rest. When
	// empty and AllowEphemeralSeal is set, a per-boot key is generated;
	// sealed tokens then do not survive a restart.
	SealSecret         string
	AllowEphemeralSeal bool

	PolicyFile string

	SessionTimeout              time.Duration
	IdleTimeout                 time.Duration
	SessionWarningTime          time.Duration
	MaxRefreshAttempts          int
	SuspiciousActivityThreshold float64
	MaxConcurrentSessions       int
	FailedOperationCeiling      int
	InvalidateOnSuspicious      bool

	// RecordGrace pads the stored record's TTL past token expiry so an
	// expired-but-renewable session can still be restored.
	RecordGrace time.Duration
	// RefreshTokenRetention bounds how long the sealed refresh token and
	// the restore metadata stay around without a successful refresh.
	RefreshTokenRetention time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID         string `yaml:"id"`
		HTTPPort   int    `yaml:"http_port"`
		GRPCPort   int    `yaml:"grpc_port"`
		ContextKey string `yaml:"context_key"`
	} `yaml:"service"`
	Dependencies struct {
		RedisURL     string   `yaml:"redis_url"`
		PostgresURL  string   `yaml:"postgres_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Refresh struct {
		EndpointURL    string `yaml:"endpoint_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"refresh"`
	Session struct {
		TimeoutMinutes              int     `yaml:"timeout_minutes"`
		IdleMinutes                 int     `yaml:"idle_minutes"`
		WarningMinutes              int     `yaml:"warning_minutes"`
		MaxRefreshAttempts          int     `yaml:"max_refresh_attempts"`
		SuspiciousActivityThreshold float64 `yaml:"suspicious_activity_threshold"`
		MaxConcurrentSessions       int     `yaml:"max_concurrent_sessions"`
		FailedOperationCeiling      int     `yaml:"failed_operation_ceiling"`
		InvalidateOnSuspicious      bool    `yaml:"invalidate_on_suspicious"`
	} `yaml:"session"`
	Authz struct {
		PolicyFile string `yaml:"policy_file"`
	} `yaml:"authz"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                   "sessiongate",
		HTTPPort:                    8080,
		GRPCPort:                    9090,
		ContextKey:                  "default",
		MaxDBConns:                  10,
		RefreshTimeout:              10 * time.Second,
		AllowEphemeralSeal:          true,
		SessionTimeout:              24 * time.Hour,
		IdleTimeout:                 30 * time.Minute,
		SessionWarningTime:          5 * time.Minute,
		MaxRefreshAttempts:          5,
		SuspiciousActivityThreshold: 10,
		MaxConcurrentSessions:       3,
		FailedOperationCeiling:      10,
		RecordGrace:                 24 * time.Hour,
		RefreshTokenRetention:       7 * 24 * time.Hour,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Service.ContextKey != "" {
			cfg.ContextKey = f.Service.ContextKey
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Dependencies.KafkaTopic != "" {
			cfg.KafkaTopic = f.Dependencies.KafkaTopic
		}
		if f.Refresh.EndpointURL != "" {
			cfg.RefreshEndpointURL = f.Refresh.EndpointURL
		}
		if f.Refresh.TimeoutSeconds > 0 {
			cfg.RefreshTimeout = time.Duration(f.Refresh.TimeoutSeconds) * time.Second
		}
		if f.Session.TimeoutMinutes > 0 {
			cfg.SessionTimeout = time.Duration(f.Session.TimeoutMinutes) * time.Minute
		}
		if f.Session.IdleMinutes > 0 {
			cfg.IdleTimeout = time.Duration(f.Session.IdleMinutes) * time.Minute
		}
		if f.Session.WarningMinutes > 0 {
			cfg.SessionWarningTime = time.Duration(f.Session.WarningMinutes) * time.Minute
		}
		if f.Session.MaxRefreshAttempts > 0 {
			cfg.MaxRefreshAttempts = f.Session.MaxRefreshAttempts
		}
		if f.Session.SuspiciousActivityThreshold > 0 {
			cfg.SuspiciousActivityThreshold = f.Session.SuspiciousActivityThreshold
		}
		if f.Session.MaxConcurrentSessions > 0 {
			cfg.MaxConcurrentSessions = f.Session.MaxConcurrentSessions
		}
		if f.Session.FailedOperationCeiling > 0 {
			cfg.FailedOperationCeiling = f.Session.FailedOperationCeiling
		}
		if f.Session.InvalidateOnSuspicious {
			cfg.InvalidateOnSuspicious = true
		}
		if f.Authz.PolicyFile != "" {
			cfg.PolicyFile = f.Authz.PolicyFile
		}
	}

	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.RefreshEndpointURL = envOrDefault("REFRESH_ENDPOINT_URL", cfg.RefreshEndpointURL)
	cfg.SealSecret = envOrDefault("SEAL_SECRET", cfg.SealSecret)
	cfg.AllowEphemeralSeal = envBool("SEAL_ALLOW_EPHEMERAL", cfg.AllowEphemeralSeal)
	cfg.PolicyFile = envOrDefault("POLICY_FILE", cfg.PolicyFile)
	cfg.ContextKey = envOrDefault("SESSION_CONTEXT_KEY", cfg.ContextKey)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.MaxRefreshAttempts = envInt("MAX_REFRESH_ATTEMPTS", cfg.MaxRefreshAttempts)
	cfg.SuspiciousActivityThreshold = envFloat("SUSPICIOUS_ACTIVITY_THRESHOLD", cfg.SuspiciousActivityThreshold)
	cfg.MaxConcurrentSessions = envInt("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	cfg.FailedOperationCeiling = envInt("FAILED_OPERATION_CEILING", cfg.FailedOperationCeiling)
	cfg.InvalidateOnSuspicious = envBool("INVALIDATE_ON_SUSPICIOUS", cfg.InvalidateOnSuspicious)

	cfg.RefreshTimeout = time.Duration(envInt("REFRESH_TIMEOUT_SECONDS", int(cfg.RefreshTimeout.Seconds()))) * time.Second
	cfg.SessionTimeout = time.Duration(envInt("SESSION_TIMEOUT_MINUTES", int(cfg.SessionTimeout.Minutes()))) * time.Minute
	cfg.IdleTimeout = time.Duration(envInt("IDLE_TIMEOUT_MINUTES", int(cfg.IdleTimeout.Minutes()))) * time.Minute
	cfg.SessionWarningTime = time.Duration(envInt("SESSION_WARNING_MINUTES", int(cfg.SessionWarningTime.Minutes()))) * time.Minute
	cfg.RecordGrace = time.Duration(envInt("SESSION_RECORD_GRACE_HOURS", int(cfg.RecordGrace.Hours()))) * time.Hour
	cfg.RefreshTokenRetention = time.Duration(envInt("REFRESH_TOKEN_RETENTION_DAYS", int(cfg.RefreshTokenRetention.Hours()/24))) * 24 * time.Hour

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if cfg.RefreshEndpointURL == "" {
		return Config{}, fmt.Errorf("missing REFRESH_ENDPOINT_URL")
	}
	if cfg.SealSecret == "" && !cfg.AllowEphemeralSeal {
		return Config{}, fmt.Errorf("missing SEAL_SECRET")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envFloat parses float env vars with safe fallback on empty/invalid values.
func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
