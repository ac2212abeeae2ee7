package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	cfg, err := LoadFrom("", envMap(map[string]string{
		"BOOKY_JWT_SECRET":      "s3cret",
		"BOOKY_ACCESS_TTL":      "5m",
		"BOOKY_PENDING_TTL":     "10m",
		"BOOKY_ROTATE_REFRESH":  "true",
		"BOOKY_REFRESH_MODE":    "bearer",
		"BOOKY_COOKIE_SAMESITE": "strict",
		"BOOKY_RATE_LIMIT":      "3",
	}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Token.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Token.AccessTTL)
	}
	if cfg.Registration.PendingTTL != 10*time.Minute {
		t.Fatalf("unexpected pending ttl: %v", cfg.Registration.PendingTTL)
	}
	if !cfg.Session.Rotate || cfg.Session.RefreshMode != RefreshModeBearer {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.TTL != cfg.Token.RefreshTTL {
		t.Fatalf("session ttl should default to refresh ttl, got %v", cfg.Session.TTL)
	}
	if cfg.Registration.RateLimit != 3 {
		t.Fatalf("unexpected rate limit: %d", cfg.Registration.RateLimit)
	}
}

func TestLoadFromDefaultsRotationOff(t *testing.T) {
	cfg, err := LoadFrom("", envMap(map[string]string{"BOOKY_JWT_SECRET": "x"}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Session.Rotate {
		t.Fatalf("rotation must be off by default")
	}
	if cfg.Session.RefreshMode != RefreshModeCookie {
		t.Fatalf("unexpected default refresh mode: %s", cfg.Session.RefreshMode)
	}
}

func TestLoadFromYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "booky.yaml")
	body := `
token:
  secret: from-file
  refresh_ttl: 48h
session:
  ttl: 24h
cookie:
  domain: booky.app
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(path, envMap(map[string]string{"BOOKY_JWT_SECRET": "from-env"}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Token.Secret != "from-env" {
		t.Fatalf("env must override file, got %q", cfg.Token.Secret)
	}
	if cfg.Token.RefreshTTL != 48*time.Hour || cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("unexpected ttls: refresh=%v session=%v", cfg.Token.RefreshTTL, cfg.Session.TTL)
	}
	if cfg.Cookie.Domain != "booky.app" {
		t.Fatalf("unexpected cookie domain: %q", cfg.Cookie.Domain)
	}
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	_, err := LoadFrom("", envMap(map[string]string{
		"BOOKY_PENDING_TTL":     "0s",
		"BOOKY_COOKIE_SAMESITE": "none",
		"BOOKY_COOKIE_SECURE":   "false",
	}))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"token secret", "pending ttl", "samesite=none"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in error, got %v", want, msg)
		}
	}
}

func TestLoadFromRejectsMalformedDuration(t *testing.T) {
	_, err := LoadFrom("", envMap(map[string]string{
		"BOOKY_JWT_SECRET": "x",
		"BOOKY_ACCESS_TTL": "fifteen",
	}))
	if err == nil || !strings.Contains(err.Error(), "BOOKY_ACCESS_TTL") {
		t.Fatalf("expected parse error naming the variable, got %v", err)
	}
}

func TestLoadFromCORSOrigins(t *testing.T) {
	cfg, err := LoadFrom("", envMap(map[string]string{
		"BOOKY_JWT_SECRET":   "x",
		"BOOKY_CORS_ORIGINS": "https://booky.app, https://admin.booky.app,,",
	}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	want := []string{"https://booky.app", "https://admin.booky.app"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Fatalf("origin %d = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}
