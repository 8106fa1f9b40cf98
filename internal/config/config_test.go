package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8787", cfg.Port)
	require.Equal(t, "Asia/Kolkata", cfg.AppTimezone)
	require.NotNil(t, cfg.Location)
	require.Equal(t, 15, cfg.EscalationMinutes)
	require.Equal(t, time.Minute, cfg.SweepInterval())
	require.Equal(t, 12*time.Second, cfg.APITimeout())
	require.Equal(t, 7*24*time.Hour, cfg.SessionTTL())
	require.True(t, cfg.IsDevelopment())
	require.True(t, cfg.SeedDemoData)
	require.Equal(t, 25, cfg.AuthRateLimitAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("ESCALATION_MINUTES", "30")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550001111")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.IsDevelopment())
	require.False(t, cfg.SeedDemoData)
	require.Equal(t, time.UTC, cfg.Location)
	require.Equal(t, 30, cfg.EscalationMinutes)
	require.Equal(t, "+15550001111", cfg.TwilioSMSFrom)
}

func TestLoad_ShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
}
