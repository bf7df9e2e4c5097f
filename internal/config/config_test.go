package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "unit-test-secret-at-least-32-chars!")
	t.Setenv("DB_PASSWORD", "postgres")
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_RequiresDBPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret-at-least-32-chars!")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionExpiry)
	assert.Equal(t, 30*time.Minute, cfg.Auth.ImpersonationExpiry)
	assert.Equal(t, DeviceTrustApproval, cfg.Auth.DeviceTrustMode)
	assert.Equal(t, 10*time.Minute, cfg.Auth.OTPExpiry)
	assert.Equal(t, 30*time.Minute, cfg.Auth.ResetTokenExpiry)
	assert.Equal(t, 90, cfg.Auth.AuditRetentionDays)
	assert.Equal(t, "b2b_session", cfg.Auth.CookieName)
	assert.False(t, cfg.Auth.CookieSecure)
}

func TestLoad_ProductionSecureCookie(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.CookieSecure)
}

func TestLoad_DeviceTrustMode(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("DEVICE_TRUST_MODE", "otp")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DeviceTrustOTP, cfg.Auth.DeviceTrustMode)

	t.Setenv("DEVICE_TRUST_MODE", "totp")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICE_TRUST_MODE")
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"valid development", "sixteen-chars-ok", "development", false},
		{"too short development", "short", "development", true},
		{"production needs 32", "sixteen-chars-ok", "production", true},
		{"valid production", "a-proper-production-secret-of-32c!", "production", false},
		{"weak value", "changeme", "development", true},
		{"weak value uppercase", "CHANGEME", "development", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTSecret(tt.secret, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		Name:     "accessi",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=accessi sslmode=disable",
		cfg.DSN())
}
