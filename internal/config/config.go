package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the collaboration service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// SessionIdleTimeout is how long a session with zero active
	// participants survives before the eviction sweep deletes it.
	SessionIdleTimeout time.Duration
	// EvictionInterval is the sweep period.
	EvictionInterval time.Duration
	// PresenceFlushInterval bounds cursor/selection broadcast frequency;
	// only the latest position per participant is relayed each tick.
	PresenceFlushInterval time.Duration

	DefaultMaxParticipants int

	// JWTSecret verifies externally issued identity tokens. Empty means
	// dev mode: identities are read from unverified headers.
	JWTSecret string

	// DatabaseURL enables durable session storage when set.
	DatabaseURL string
	// RedisURL enables the cross-instance broadcast backplane when set.
	RedisURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "codepair"),
		AllowAnyOrigin:         false,
		ShutdownTimeout:        15 * time.Second,
		SessionIdleTimeout:     30 * time.Minute,
		EvictionInterval:       time.Minute,
		PresenceFlushInterval:  50 * time.Millisecond,
		DefaultMaxParticipants: 10,
		JWTSecret:              stringsTrimSpace("APP_JWT_SECRET"),
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		RedisURL:               stringsTrimSpace("REDIS_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EvictionInterval, err = durationFromEnv("APP_EVICTION_INTERVAL", cfg.EvictionInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PresenceFlushInterval, err = durationFromEnv("APP_PRESENCE_FLUSH_INTERVAL", cfg.PresenceFlushInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxParticipants, err = intFromEnv("APP_DEFAULT_MAX_PARTICIPANTS", cfg.DefaultMaxParticipants)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.EvictionInterval <= 0 {
		return Config{}, fmt.Errorf("APP_EVICTION_INTERVAL must be positive")
	}
	if cfg.PresenceFlushInterval <= 0 {
		return Config{}, fmt.Errorf("APP_PRESENCE_FLUSH_INTERVAL must be positive")
	}
	if cfg.DefaultMaxParticipants < 1 {
		return Config{}, fmt.Errorf("APP_DEFAULT_MAX_PARTICIPANTS must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
