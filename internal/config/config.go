package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the base server configuration.
type Config struct {
	Host           string
	Port           string
	SQLiteDBPath   string
	AppEnv         string
	LogLevel       string
	JWTSecret      string
	SessionTTLSec  int
	SeedDemoData   bool
	AuditRetention int
	AppTimezone    string
	Location       *time.Location

	// Escalation sweep
	EscalationMinutes    int
	SweepIntervalSeconds int
	APITimeoutMs         int

	// Twilio credentials. Gateway falls back to the mock provider when any is empty.
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TwilioSMSFrom     string
	TwilioTwiMLURL    string
	TwilioAPIBaseURL  string

	// Login/register attempts allowed per client IP within the window.
	AuthRateLimitAttempts   int
	AuthRateLimitWindowSecs int
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	appEnv := envString("APP_ENV", "development")
	timezone := envString("APP_TIMEZONE", "Asia/Kolkata")
	jwtSecret := envString("JWT_SECRET", "")

	if len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid APP_TIMEZONE %q: %w", timezone, err)
	}

	escalationMinutes := envInt("ESCALATION_MINUTES", 15)
	if escalationMinutes <= 0 {
		return Config{}, fmt.Errorf("ESCALATION_MINUTES must be positive")
	}

	twilioPhone := envString("TWILIO_PHONE_NUMBER", "")

	return Config{
		Host:                    envString("HOST", "0.0.0.0"),
		Port:                    envString("PORT", "8787"),
		SQLiteDBPath:            envString("SQLITE_DB_PATH", "./data/medassist.db"),
		AppEnv:                  appEnv,
		LogLevel:                envString("LOG_LEVEL", "info"),
		JWTSecret:               jwtSecret,
		SessionTTLSec:           envInt("SESSION_TTL_SECONDS", 7*24*60*60),
		SeedDemoData:            envBool("SEED_DEMO_DATA", appEnv == "development"),
		AuditRetention:          envInt("AUDIT_RETENTION_DAYS", 90),
		AppTimezone:             timezone,
		Location:                location,
		EscalationMinutes:       escalationMinutes,
		SweepIntervalSeconds:    envInt("SWEEP_INTERVAL_SECONDS", 60),
		APITimeoutMs:            envInt("API_TIMEOUT_MS", 12000),
		TwilioAccountSID:        envString("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         envString("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:       twilioPhone,
		TwilioSMSFrom:           envString("TWILIO_SMS_FROM", twilioPhone),
		TwilioTwiMLURL:          envString("TWILIO_TWIML_URL", "http://demo.twilio.com/docs/voice.xml"),
		TwilioAPIBaseURL:        envString("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		AuthRateLimitAttempts:   envInt("AUTH_RATE_LIMIT_ATTEMPTS", 25),
		AuthRateLimitWindowSecs: envInt("AUTH_RATE_LIMIT_WINDOW_SECONDS", 600),
	}, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// SweepInterval returns the escalation sweep period.
func (c Config) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// APITimeout bounds every outbound gateway request.
func (c Config) APITimeout() time.Duration {
	if c.APITimeoutMs <= 0 {
		return 12 * time.Second
	}
	return time.Duration(c.APITimeoutMs) * time.Millisecond
}

// SessionTTL is the lifetime of an issued access token.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
