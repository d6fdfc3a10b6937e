package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("QUEUE_LOCK_TIMEOUT", "")
	t.Setenv("QUEUE_MAX_FAST_TRACKS", "")
	t.Setenv("EMAIL_PROVIDER", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("NOTIFICATION_WORKERS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.QueueLockTimeout != 2*time.Second {
		t.Fatalf("expected default lock timeout, got %s", cfg.QueueLockTimeout)
	}
	if cfg.QueueMaxFastTracks != 0 {
		t.Fatalf("expected fast track cap off by default, got %d", cfg.QueueMaxFastTracks)
	}
	if cfg.QueueTimezone != "UTC" {
		t.Fatalf("expected UTC timezone, got %s", cfg.QueueTimezone)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.NotificationWorkers != 2 {
		t.Fatalf("expected 2 notification workers, got %d", cfg.NotificationWorkers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("USE_MEMORY_STORE", "true")
	t.Setenv("QUEUE_TIMEZONE", "Asia/Singapore")
	t.Setenv("QUEUE_LOCK_TIMEOUT", "750ms")
	t.Setenv("QUEUE_MAX_FAST_TRACKS", "3")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://desk.example.com, ,https://kiosk.example.com")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if !cfg.UseMemoryStore {
		t.Fatalf("expected memory store enabled")
	}
	if cfg.QueueTimezone != "Asia/Singapore" {
		t.Fatalf("expected timezone override, got %s", cfg.QueueTimezone)
	}
	if cfg.QueueLockTimeout != 750*time.Millisecond {
		t.Fatalf("expected lock timeout override, got %s", cfg.QueueLockTimeout)
	}
	if cfg.QueueMaxFastTracks != 3 {
		t.Fatalf("expected fast track cap 3, got %d", cfg.QueueMaxFastTracks)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalized provider, got %q", cfg.EmailProvider)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://kiosk.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("QUEUE_TIMEZONE=Europe/Berlin\nPORT=7000\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PORT", "9999")
	t.Setenv("QUEUE_TIMEZONE", "")
	os.Unsetenv("QUEUE_TIMEZONE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg := Load()
	if cfg.QueueTimezone != "Europe/Berlin" {
		t.Fatalf("expected timezone from .env, got %s", cfg.QueueTimezone)
	}
	if cfg.Port != "9999" {
		t.Fatalf("existing env must win over .env, got %s", cfg.Port)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}
}
