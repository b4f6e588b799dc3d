package config

import (
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callboard", SSLMode: "disable"},
		Auth:   AuthConfig{JWTSecret: "secret", DashUser: "admin", DashPassword: "pw"},
		Ingest: IngestConfig{MaxConcurrent: 16},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndSecrets(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	c.PBX.Secret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and PBX_SECRET")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RedisOptional(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected redis to be optional, got %v", err)
	}
	if c.RedisAddr() != "" {
		t.Fatalf("expected empty redis addr")
	}

	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}

func setValidEnv(t *testing.T) {
	t.Helper()
	for key, val := range map[string]string{
		"APP_ENV":         "local",
		"APP_PORT":        "8080",
		"DB_HOST":         "localhost",
		"DB_PORT":         "5432",
		"DB_USER":         "postgres",
		"DB_NAME":         "callboard",
		"JWT_SECRET":      "secret",
		"DASH_USER":       "admin",
		"DASH_PASSWORD":   "pw",
		"JWT_SESSION_TTL": "",
	} {
		t.Setenv(key, val)
	}
}

func TestLoad_RejectsMalformedSessionTTL(t *testing.T) {
	setValidEnv(t)
	t.Setenv("JWT_SESSION_TTL", "twelve hours")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for malformed JWT_SESSION_TTL")
	}

	t.Setenv("JWT_SESSION_TTL", "45m")
	c, err := Load()
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if c.Auth.SessionTTL != 45*time.Minute {
		t.Fatalf("expected 45m session ttl, got %v", c.Auth.SessionTTL)
	}
}

func TestSessionTTLOrDefault(t *testing.T) {
	c := validBase()
	if c.Auth.SessionTTLOrDefault() <= 0 {
		t.Fatalf("expected positive default session ttl")
	}
}
