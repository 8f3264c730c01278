package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Store.Mode != "memory" {
		t.Errorf("expected default store mode memory, got %q", cfg.Store.Mode)
	}
	if cfg.RateLimit.DefaultRPM != 60 {
		t.Errorf("expected default rpm 60, got %d", cfg.RateLimit.DefaultRPM)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("expected default provider timeout 30s, got %s", cfg.ProviderTimeout)
	}
	if cfg.Groq.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("unexpected groq base url %q", cfg.Groq.BaseURL)
	}
}

func TestLoad_NoProviderKeys(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "GROQ_API_KEY"} {
		t.Setenv(key, "")
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when no provider key is set")
	}
	if !strings.Contains(err.Error(), "at least one provider API key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_RedisModeRequiresURL(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STORE_MODE", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when STORE_MODE=redis without REDIS_URL")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.URL != "redis://localhost:6379" {
		t.Errorf("unexpected redis url %q", cfg.Redis.URL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"store mode", "STORE_MODE", "postgres"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"rpm", "RATE_LIMIT_DEFAULT_RPM", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
