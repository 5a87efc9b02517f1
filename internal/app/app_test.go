package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenBackendSelectsKind(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		backend string
		check   func(state.Backend) bool
	}{
		{config.BackendFile, func(b state.Backend) bool { _, ok := b.(*state.FileBackend); return ok }},
		{config.BackendSQLite, func(b state.Backend) bool { _, ok := b.(state.HealthChecker); return ok }},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := &config.Config{
				StateBackend:  tc.backend,
				DataDirectory: filepath.Join(dir, "files"),
				SQLitePath:    filepath.Join(dir, "sqlite", "state.db"),
			}
			b, closeFn, err := OpenBackend(context.Background(), cfg, testLogger())
			if err != nil {
				t.Fatalf("OpenBackend: %v", err)
			}
			defer closeFn()
			if !tc.check(b) {
				t.Fatalf("unexpected backend type %T", b)
			}
		})
	}

	if _, _, err := OpenBackend(context.Background(), &config.Config{StateBackend: "redis"}, testLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewWiresServices(t *testing.T) {
	cfg := &config.Config{
		StateBackend:         config.BackendFile,
		DataDirectory:        t.TempDir(),
		LowBatteryThreshold:  15,
		NotificationCooldown: time.Minute,
		HistoryRetention:     24 * time.Hour,
		DisplayTimezone:      time.UTC,
	}
	s, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.MQTT != nil {
		t.Fatal("MQTT must stay disabled without a broker")
	}

	ctx := context.Background()
	devices := model.DeviceSet{"dev1": {Name: "Keys"}}
	if err := s.Store.SaveDevices(ctx, "alice", devices); err != nil {
		t.Fatalf("SaveDevices: %v", err)
	}
	n, err := s.Engine.SendTestNotification(ctx, "alice", "dev1", "generic_test")
	if err != nil {
		t.Fatalf("SendTestNotification: %v", err)
	}
	if n.Title != "Test Notification for Keys" {
		t.Fatalf("title = %q", n.Title)
	}
	entries, err := s.Notifier.History(ctx, "alice")
	if err != nil || len(entries) != 1 {
		t.Fatalf("history = %v, %v", entries, err)
	}
}
