package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Device trust models. Exactly one is active per deployment; the two
// state machines are never mixed at runtime.
const (
	DeviceTrustApproval = "approval" // unknown devices wait for an administrator
	DeviceTrustOTP      = "otp"      // unknown devices self-verify with a one-time code
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	BaseURL  string
}

type AuthConfig struct {
	JWTSecret           string
	SessionExpiry       time.Duration // normal session cookie lifetime
	ImpersonationExpiry time.Duration // shortened support-session lifetime
	DeviceTrustMode     string
	OTPExpiry           time.Duration
	ResetTokenExpiry    time.Duration
	CleanupInterval     time.Duration
	AuditRetentionDays  int
	CookieName          string
	CookieSecure        bool
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "accessi"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
			BaseURL:  getEnv("SITE_BASE_URL", "http://localhost:3000"),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			SessionExpiry:       getEnvAsDuration("SESSION_EXPIRY", 8*time.Hour),
			ImpersonationExpiry: getEnvAsDuration("IMPERSONATION_EXPIRY", 30*time.Minute),
			DeviceTrustMode:     getEnv("DEVICE_TRUST_MODE", DeviceTrustApproval),
			OTPExpiry:           getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			ResetTokenExpiry:    getEnvAsDuration("RESET_TOKEN_EXPIRY", 30*time.Minute),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AuditRetentionDays:  getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
			CookieName:          getEnv("SESSION_COOKIE_NAME", "b2b_session"),
			CookieSecure:        env == "production",
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", ""),
			FromAddress: getEnv("EMAIL_FROM", "noreply@seditalia.example"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	switch cfg.Auth.DeviceTrustMode {
	case DeviceTrustApproval, DeviceTrustOTP:
	default:
		return nil, fmt.Errorf("DEVICE_TRUST_MODE must be %q or %q (got %q)",
			DeviceTrustApproval, DeviceTrustOTP, cfg.Auth.DeviceTrustMode)
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the signing secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
