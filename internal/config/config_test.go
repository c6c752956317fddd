package config

import (
	"os"
	"strings"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"ADDRESS", "METRICS_ADDRESS", "IP_HASH_SALT", "GO_ENV", "LOG_LEVEL",
		"SHUTDOWN_TIMEOUT_SEC", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN",
		"REDIS_ADDR", "REDIS_PASSWORD", "RATE_LIMIT_WS_PER_MINUTE", "OTEL_COLLECTOR_ADDR",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if v := orig[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Address != "0.0.0.0:8080" {
		t.Errorf("expected default ADDRESS, got %q", cfg.Address)
	}
	if cfg.MetricsAddress != cfg.Address {
		t.Errorf("expected METRICS_ADDRESS to default to ADDRESS")
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to production, got %q", cfg.GoEnv)
	}
	if cfg.ICEBrokerEnabled() {
		t.Errorf("expected ICE broker disabled with no twilio credentials")
	}
	if cfg.RedisEnabled() {
		t.Errorf("expected redis disabled by default")
	}
}

func TestValidateEnv_MissingSalt(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing IP_HASH_SALT")
	}
	if !strings.Contains(err.Error(), "IP_HASH_SALT is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_InvalidAddress(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")
	os.Setenv("ADDRESS", "not-a-host-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid ADDRESS")
	}
	if !strings.Contains(err.Error(), "ADDRESS must be in format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_TwilioCredentialsMustComeTogether(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")
	os.Setenv("TWILIO_ACCOUNT_SID", "ACxxxx")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for partial twilio credentials")
	}
	if !strings.Contains(err.Error(), "must be set together") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_ICEBrokerEnabled(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")
	os.Setenv("TWILIO_ACCOUNT_SID", "ACxxxx")
	os.Setenv("TWILIO_AUTH_TOKEN", "secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !cfg.ICEBrokerEnabled() {
		t.Errorf("expected ICE broker enabled")
	}
}

func TestValidateEnv_InvalidShutdownTimeout(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("IP_HASH_SALT", "pepper")
	os.Setenv("SHUTDOWN_TIMEOUT_SEC", "not-a-number")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid SHUTDOWN_TIMEOUT_SEC")
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"empty", "", ""},
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("redactSecret(%q) = %q, want %q", tt.secret, got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid ip", "127.0.0.1:3000", true},
		{"valid hostname", "example.com:443", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"multiple colons", "localhost:8080:9090", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, want %v", tt.addr, got, tt.expected)
			}
		})
	}
}
