// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the user directory and audit log.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the address of the shared key-value store (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the key-value store password; empty when auth is disabled.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the key-value store database index.
	RedisDB int `mapstructure:"REDIS_DB"`

	// AccessSecret is the HMAC secret for access tokens. Used when no key pair is configured.
	AccessSecret string `mapstructure:"ACCESS_TOKEN_SECRET"`
	// RefreshSecret is the HMAC secret for refresh tokens. Access and refresh tokens must not share key material.
	RefreshSecret string `mapstructure:"REFRESH_TOKEN_SECRET"`
	// AccessPrivateKey is a PEM-encoded RSA/ECDSA private key or path to file for signing access tokens.
	AccessPrivateKey string `mapstructure:"ACCESS_TOKEN_PRIVATE_KEY"`
	// AccessPublicKey is the matching public key for verifying access tokens.
	AccessPublicKey string `mapstructure:"ACCESS_TOKEN_PUBLIC_KEY"`
	// RefreshPrivateKey is a PEM-encoded RSA/ECDSA private key or path to file for signing refresh tokens.
	RefreshPrivateKey string `mapstructure:"REFRESH_TOKEN_PRIVATE_KEY"`
	// RefreshPublicKey is the matching public key for verifying refresh tokens.
	RefreshPublicKey string `mapstructure:"REFRESH_TOKEN_PUBLIC_KEY"`
	// JWTIssuer is the iss claim; required.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; required.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// SessionTTLRaw is the sliding session record lifetime (e.g. "168h"); refreshed on each rotation.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// UsedTokenHistoryMax caps the per-session list of superseded refresh token hashes.
	UsedTokenHistoryMax int `mapstructure:"USED_TOKEN_HISTORY_MAX"`
	// RevokeOnReuse invalidates the whole session when refresh token reuse is detected.
	// Default false: reuse is logged and rejected but the session keeps its last rotated token.
	RevokeOnReuse bool `mapstructure:"REVOKE_ON_REUSE"`

	// LockoutThreshold is the number of consecutive failed logins before an identifier is locked.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDurationRaw is how long a locked identifier stays locked (e.g. "15m").
	LockoutDurationRaw string `mapstructure:"LOCKOUT_DURATION"`
	// LoginAttemptWindowRaw is the expiry window of the failed-login counter (e.g. "15m").
	LoginAttemptWindowRaw string `mapstructure:"LOGIN_ATTEMPT_WINDOW"`

	// AnomalyRefreshRateThreshold flags a session whose refresh counter exceeds this value.
	AnomalyRefreshRateThreshold int64 `mapstructure:"ANOMALY_REFRESH_RATE_THRESHOLD"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LoginRateLimit is the per-IP sustained request rate on the login endpoint.
	LoginRateLimit float64 `mapstructure:"LOGIN_RATE_LIMIT"`
	// LoginRateBurst is the per-IP burst allowance on the login endpoint.
	LoginRateBurst int `mapstructure:"LOGIN_RATE_BURST"`

	// KafkaBrokers is a comma-separated broker list; empty disables the audit stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic audit events are published to.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group used by the log-shipping worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the worker pushes audit events to.
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "scp-auth")
	v.SetDefault("JWT_AUDIENCE", "scp-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("USED_TOKEN_HISTORY_MAX", 10)
	v.SetDefault("REVOKE_ON_REUSE", false)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("LOGIN_ATTEMPT_WINDOW", "15m")
	v.SetDefault("ANOMALY_REFRESH_RATE_THRESHOLD", 100)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_RATE_LIMIT", 5.0)
	v.SetDefault("LOGIN_RATE_BURST", 10)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "scp-audit")
	v.SetDefault("KAFKA_GROUP_ID", "scp-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	hasAccessKeyPair := cfg.AccessPrivateKey != "" && cfg.AccessPublicKey != ""
	hasRefreshKeyPair := cfg.RefreshPrivateKey != "" && cfg.RefreshPublicKey != ""
	if cfg.AccessSecret == "" && !hasAccessKeyPair {
		return nil, errors.New("config: ACCESS_TOKEN_SECRET or ACCESS_TOKEN_PRIVATE_KEY/PUBLIC_KEY must be set")
	}
	if cfg.RefreshSecret == "" && !hasRefreshKeyPair {
		return nil, errors.New("config: REFRESH_TOKEN_SECRET or REFRESH_TOKEN_PRIVATE_KEY/PUBLIC_KEY must be set")
	}
	if cfg.AccessSecret != "" && cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("config: access and refresh tokens must use distinct secrets")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.UsedTokenHistoryMax <= 0 {
		cfg.UsedTokenHistoryMax = 10
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.AnomalyRefreshRateThreshold <= 0 {
		cfg.AnomalyRefreshRateThreshold = 100
	}
	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = 5.0
	}
	if cfg.LoginRateBurst <= 0 {
		cfg.LoginRateBurst = 10
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// SessionTTL parses SessionTTLRaw as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return durationOr(c.SessionTTLRaw, 168*time.Hour)
}

// LockoutDuration parses LockoutDurationRaw as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return durationOr(c.LockoutDurationRaw, 15*time.Minute)
}

// LoginAttemptWindow parses LoginAttemptWindowRaw as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) LoginAttemptWindow() time.Duration {
	return durationOr(c.LoginAttemptWindowRaw, 15*time.Minute)
}

// KafkaBrokersList splits KafkaBrokers on commas, dropping empty entries.
func (c *Config) KafkaBrokersList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
