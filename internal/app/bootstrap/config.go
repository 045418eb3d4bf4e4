package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the portal.
// It merges file defaults and environment overrides to support both local
// and deployed runs.
type Config struct {
	ServiceID string
	HTTPPort  int
	BaseURL   string

	DatabaseURL string
	RedisURL    string

	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string
	OIDCHTTPTimeout  time.Duration

	SessionTTL    time.Duration
	RememberTTL   time.Duration
	HandshakeTTL  time.Duration
	SecureCookies bool

	MaxDBConns int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	IdentityProvider struct {
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"identity_provider"`
	Session struct {
		TTLHours     int  `yaml:"ttl_hours"`
		RememberDays int  `yaml:"remember_days"`
		SecureCookie bool `yaml:"secure_cookie"`
	} `yaml:"session"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific
// overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:       "portal",
		HTTPPort:        8080,
		BaseURL:         "http://localhost:8080",
		OIDCScopes:      []string{"openid", "email", "profile"},
		OIDCHTTPTimeout: 8 * time.Second,
		SessionTTL:      24 * time.Hour,
		RememberTTL:     30 * 24 * time.Hour,
		HandshakeTTL:    10 * time.Minute,
		MaxDBConns:      10,
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
		if f.Service.BaseURL != "" {
			cfg.BaseURL = f.Service.BaseURL
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.IdentityProvider.ClientID != "" {
			cfg.OIDCClientID = f.IdentityProvider.ClientID
		}
		if f.IdentityProvider.ClientSecret != "" {
			cfg.OIDCClientSecret = f.IdentityProvider.ClientSecret
		}
		if len(f.IdentityProvider.Scopes) > 0 {
			cfg.OIDCScopes = f.IdentityProvider.Scopes
		}
		if f.Session.TTLHours > 0 {
			cfg.SessionTTL = time.Duration(f.Session.TTLHours) * time.Hour
		}
		if f.Session.RememberDays > 0 {
			cfg.RememberTTL = time.Duration(f.Session.RememberDays) * 24 * time.Hour
		}
		cfg.SecureCookies = f.Session.SecureCookie
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.BaseURL = envOrDefault("BASE_URL", cfg.BaseURL)
	cfg.OIDCClientID = envOrDefault("OIDC_CLIENT_ID", cfg.OIDCClientID)
	cfg.OIDCClientSecret = envOrDefault("OIDC_CLIENT_SECRET", cfg.OIDCClientSecret)
	cfg.OIDCScopes = envCSV("OIDC_SCOPES", cfg.OIDCScopes)
	cfg.SecureCookies = envBool("SECURE_COOKIES", cfg.SecureCookies)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.MaxDBConns = envInt("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_HOURS", int(cfg.SessionTTL.Hours()))) * time.Hour
	cfg.RememberTTL = time.Duration(envInt("REMEMBER_TTL_DAYS", int(cfg.RememberTTL.Hours()/24))) * 24 * time.Hour
	cfg.HandshakeTTL = time.Duration(envInt("HANDSHAKE_TTL_SECONDS", int(cfg.HandshakeTTL.Seconds()))) * time.Second
	cfg.OIDCHTTPTimeout = time.Duration(envInt("OIDC_HTTP_TIMEOUT_SECONDS", int(cfg.OIDCHTTPTimeout.Seconds()))) * time.Second

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if cfg.OIDCClientID == "" {
		return Config{}, fmt.Errorf("missing OIDC_CLIENT_ID")
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

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
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
