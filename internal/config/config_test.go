package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STATE_BACKEND", "")
	t.Setenv("LOW_BATTERY_THRESHOLD", "")
	t.Setenv("NOTIFICATION_COOLDOWN_SECONDS", "")
	t.Setenv("TZ_DISPLAY", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateBackend != BackendFile {
		t.Fatalf("expected file backend, got %q", cfg.StateBackend)
	}
	if cfg.LowBatteryThreshold != 15 {
		t.Fatalf("expected threshold 15, got %v", cfg.LowBatteryThreshold)
	}
	if cfg.NotificationCooldown != 300*time.Second {
		t.Fatalf("expected 300s cooldown, got %v", cfg.NotificationCooldown)
	}
	if cfg.HistoryRetention != 30*24*time.Hour {
		t.Fatalf("expected 30 day retention, got %v", cfg.HistoryRetention)
	}
	if cfg.VAPIDEnabled() {
		t.Fatal("VAPID should be disabled without keys")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TZ_DISPLAY", "UTC")
	t.Setenv("LOW_BATTERY_THRESHOLD", "20.5")
	t.Setenv("NOTIFICATION_COOLDOWN_SECONDS", "60")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("VAPID_CLAIMS_EMAIL", "ops@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LowBatteryThreshold != 20.5 {
		t.Fatalf("expected 20.5, got %v", cfg.LowBatteryThreshold)
	}
	if cfg.NotificationCooldown != time.Minute {
		t.Fatalf("expected 1m, got %v", cfg.NotificationCooldown)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if len(cfg.CORSAllowOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSAllowOrigins)
	}
	if !cfg.VAPIDEnabled() {
		t.Fatal("VAPID should be enabled")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StateBackend:         BackendFile,
			DataDirectory:        "./data",
			LowBatteryThreshold:  15,
			NotificationCooldown: time.Minute,
			HistoryRetention:     time.Hour,
			FetchInterval:        time.Minute,
			HistoryPruneSchedule: "0 3 * * *",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.StateBackend = "redis" }, false},
		{"postgres without dsn", func(c *Config) { c.StateBackend = BackendPostgres }, false},
		{"postgres with dsn", func(c *Config) { c.StateBackend = BackendPostgres; c.DatabaseURL = "postgres://x" }, true},
		{"zero threshold", func(c *Config) { c.LowBatteryThreshold = 0 }, false},
		{"threshold above 100", func(c *Config) { c.LowBatteryThreshold = 101 }, false},
		{"zero cooldown", func(c *Config) { c.NotificationCooldown = 0 }, false},
		{"bad prune schedule", func(c *Config) { c.HistoryPruneSchedule = "every night" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
