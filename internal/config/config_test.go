package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.PresenceFlushInterval != 50*time.Millisecond {
		t.Fatalf("PresenceFlushInterval = %v, want 50ms", cfg.PresenceFlushInterval)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatalf("external backends should default off: db=%q redis=%q", cfg.DatabaseURL, cfg.RedisURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_SESSION_IDLE_TIMEOUT", "10m")
	t.Setenv("APP_DEFAULT_MAX_PARTICIPANTS", "4")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SessionIdleTimeout != 10*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 10m", cfg.SessionIdleTimeout)
	}
	if cfg.DefaultMaxParticipants != 4 {
		t.Fatalf("DefaultMaxParticipants = %d, want 4", cfg.DefaultMaxParticipants)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "APP_SESSION_IDLE_TIMEOUT", "soon"},
		{"too short idle timeout", "APP_SESSION_IDLE_TIMEOUT", "1s"},
		{"zero capacity", "APP_DEFAULT_MAX_PARTICIPANTS", "0"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"negative interval", "APP_EVICTION_INTERVAL", "-1m"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SESSION_IDLE_TIMEOUT",
		"APP_EVICTION_INTERVAL",
		"APP_PRESENCE_FLUSH_INTERVAL",
		"APP_DEFAULT_MAX_PARTICIPANTS",
		"APP_JWT_SECRET",
		"DATABASE_URL",
		"REDIS_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
