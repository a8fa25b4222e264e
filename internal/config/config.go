// Package config loads runtime configuration from the environment,
// with optional .env support for local development.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Profile  string // local | production
	HTTPAddr string

	// DatabaseURL is a postgres DSN. Empty selects an on-disk sqlite
	// database, which is only acceptable for local profiles.
	DatabaseURL string
	SQLitePath  string

	RedisAddr string // empty disables the distributed rate limiter

	AllowedEmailDomain string // e.g. "@kyonggi.ac.kr"

	OTP  OTPConfig
	Auth AuthConfig
	SMTP SMTPConfig

	CORSOrigins []string

	AuthRateLimitRPM int
	APIRateLimitRPM  int

	OTELEnabled               bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout time.Duration
}

// OTPConfig is the issuance/verification policy for email codes.
type OTPConfig struct {
	TTL            time.Duration
	MaxFailures    int
	ResendCooldown time.Duration
	DailySendLimit int
	HMACSecret     string
}

type AuthConfig struct {
	JWTIssuer   string
	JWTAudience string
	JWTSecret   string
	AccessTTL   time.Duration

	RefreshCookieName string
	CookiePath        string
	CookieSecure      bool
	CookieSameSite    string // Lax | Strict | None

	// Server-side session TTLs; the cookie Max-Age follows the same split.
	RememberMeTTL time.Duration
	SessionTTL    time.Duration

	// TokenPepper keys the HMAC over refresh secrets before storage.
	TokenPepper string
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Profile:  getEnv("APP_PROFILE", "local"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "community-auth.db"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		AllowedEmailDomain: getEnv("ALLOWED_EMAIL_DOMAIN", "@kyonggi.ac.kr"),

		OTP: OTPConfig{
			TTL:            time.Duration(getEnvInt("OTP_TTL_MINUTES", 10)) * time.Minute,
			MaxFailures:    getEnvInt("OTP_MAX_FAILURES", 5),
			ResendCooldown: time.Duration(getEnvInt("OTP_RESEND_COOLDOWN_SECONDS", 20)) * time.Second,
			DailySendLimit: getEnvInt("OTP_DAILY_SEND_LIMIT", 5),
			HMACSecret:     getEnv("OTP_HMAC_SECRET", ""),
		},
		Auth: AuthConfig{
			JWTIssuer:         getEnv("AUTH_JWT_ISSUER", "community-auth-backend"),
			JWTAudience:       getEnv("AUTH_JWT_AUDIENCE", "community-board"),
			JWTSecret:         getEnv("AUTH_JWT_SECRET", ""),
			AccessTTL:         time.Duration(getEnvInt("AUTH_ACCESS_TTL_SECONDS", 900)) * time.Second,
			RefreshCookieName: getEnv("AUTH_REFRESH_COOKIE_NAME", "CB_REFRESH"),
			CookiePath:        getEnv("AUTH_REFRESH_COOKIE_PATH", "/api/v1/auth"),
			CookieSecure:      getEnvBool("AUTH_REFRESH_COOKIE_SECURE", false),
			CookieSameSite:    getEnv("AUTH_REFRESH_COOKIE_SAMESITE", "Lax"),
			RememberMeTTL:     time.Duration(getEnvInt("AUTH_REMEMBER_ME_SECONDS", 604800)) * time.Second,
			SessionTTL:        time.Duration(getEnvInt("AUTH_SESSION_TTL_SECONDS", 86400)) * time.Second,
			TokenPepper:       getEnv("AUTH_TOKEN_PEPPER", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnv("SMTP_PORT", "1025"),
			From:     getEnv("SMTP_FROM", "noreply@community-board.local"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),

		AuthRateLimitRPM: getEnvInt("AUTH_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:  getEnvInt("API_RATE_LIMIT_RPM", 300),

		OTELEnabled:               getEnvBool("OTEL_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "community-auth-backend"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "local"),
		OTELMetricsExportInterval: time.Duration(getEnvInt("OTEL_METRICS_EXPORT_INTERVAL_SECONDS", 30)) * time.Second,

		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		recordConfigLoad(ctx, cfg.Profile, err)
		return nil, err
	}
	recordConfigLoad(ctx, cfg.Profile, nil)
	return cfg, nil
}

func (c *Config) validate() error {
	const minSecretLen = 32

	if c.Profile == "local" {
		// Local profile fills in development-only secrets so the server
		// starts without an env file. Production must set its own.
		if c.OTP.HMACSecret == "" {
			c.OTP.HMACSecret = "local-dev-otp-hmac-secret-0123456789ab"
		}
		if c.Auth.JWTSecret == "" {
			c.Auth.JWTSecret = "local-dev-jwt-secret-0123456789abcdef"
		}
		if c.Auth.TokenPepper == "" {
			c.Auth.TokenPepper = "local-dev-token-pepper-0123456789abc"
		}
	}

	if len(c.OTP.HMACSecret) < minSecretLen {
		return fmt.Errorf("validate config: OTP_HMAC_SECRET must be at least %d bytes", minSecretLen)
	}
	if len(c.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("validate config: AUTH_JWT_SECRET must be at least %d bytes", minSecretLen)
	}
	if len(c.Auth.TokenPepper) < minSecretLen {
		return fmt.Errorf("validate config: AUTH_TOKEN_PEPPER must be at least %d bytes", minSecretLen)
	}
	if c.Profile == "production" && c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required in production")
	}
	if !strings.HasPrefix(c.AllowedEmailDomain, "@") {
		return fmt.Errorf("validate config: ALLOWED_EMAIL_DOMAIN must start with '@'")
	}
	if !strings.HasPrefix(c.Auth.CookiePath, "/") {
		return fmt.Errorf("validate config: AUTH_REFRESH_COOKIE_PATH must start with '/'")
	}
	switch c.Auth.CookieSameSite {
	case "Lax", "Strict", "None":
	default:
		return fmt.Errorf("validate config: AUTH_REFRESH_COOKIE_SAMESITE must be Lax, Strict or None")
	}
	if c.OTP.MaxFailures < 1 || c.OTP.DailySendLimit < 1 {
		return fmt.Errorf("validate config: OTP limits must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
