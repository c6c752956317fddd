// Package config validates the environment variables the signalling server
// reads at startup into a typed Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds validated environment configuration for the signalling server.
type Config struct {
	// Default-filled (0.0.0.0:8080)
	Address string // WebSocket listener, host:port

	// IPHashSalt is required; the others are default-filled
	MetricsAddress string // Prometheus exposition, host:port
	IPHashSalt     string
	GoEnv          string
	LogLevel       string
	ShutdownSec    int

	// Twilio-style ICE credential vendor. Both empty disables component G.
	TwilioAccountSID string
	TwilioAuthToken  string

	// Connection admission rate limiting
	RedisAddr            string
	RedisPassword        string
	RateLimitWSPerMinute string

	// Tracing
	OTELCollectorAddr string
}

// Load reads .env (if present, without overriding variables already set in
// the environment) and then validates the process environment into a
// Config. Any validation failure is a FatalError: callers should treat a
// non-nil error as grounds to exit non-zero before binding any listener.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("no .env file loaded", "path", envFile, "error", err)
		}
	}
	return ValidateEnv()
}

// ValidateEnv validates all required environment variables and returns a Config object.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Address = getEnvOrDefault("ADDRESS", "0.0.0.0:8080")
	if !isValidHostPort(cfg.Address) {
		errs = append(errs, fmt.Sprintf("ADDRESS must be in format 'host:port' (got '%s')", cfg.Address))
	}

	cfg.MetricsAddress = getEnvOrDefault("METRICS_ADDRESS", cfg.Address)
	if !isValidHostPort(cfg.MetricsAddress) {
		errs = append(errs, fmt.Sprintf("METRICS_ADDRESS must be in format 'host:port' (got '%s')", cfg.MetricsAddress))
	}

	cfg.IPHashSalt = os.Getenv("IP_HASH_SALT")
	if cfg.IPHashSalt == "" {
		errs = append(errs, "IP_HASH_SALT is required")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	shutdownSec, err := strconv.Atoi(getEnvOrDefault("SHUTDOWN_TIMEOUT_SEC", "5"))
	if err != nil || shutdownSec <= 0 {
		errs = append(errs, fmt.Sprintf("SHUTDOWN_TIMEOUT_SEC must be a positive integer (got '%s')", os.Getenv("SHUTDOWN_TIMEOUT_SEC")))
	}
	cfg.ShutdownSec = shutdownSec

	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		errs = append(errs, "TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together or not at all")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisAddr != "" && !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}

	cfg.RateLimitWSPerMinute = getEnvOrDefault("RATE_LIMIT_WS_PER_MINUTE", "30-M")
	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// ICEBrokerEnabled reports whether the Twilio-style credential vendor is configured.
func (c *Config) ICEBrokerEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// RedisEnabled reports whether the connection-admission limiter should use a
// shared Redis store instead of an in-process one.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// TracingEnabled reports whether an OTLP collector was configured.
func (c *Config) TracingEnabled() bool {
	return c.OTELCollectorAddr != ""
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"address", cfg.Address,
		"metrics_address", cfg.MetricsAddress,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"ice_broker_enabled", cfg.ICEBrokerEnabled(),
		"redis_enabled", cfg.RedisEnabled(),
		"tracing_enabled", cfg.TracingEnabled(),
		"twilio_account_sid", redactSecret(cfg.TwilioAccountSID),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret, showing only the first 8 characters.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
