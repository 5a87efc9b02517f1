package sqlitestore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return s
}

func TestStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	data, err := s.Get(ctx, "alice", state.KindBatteryState)
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil) for missing row, got (%q, %v)", data, err)
	}

	if err := s.Put(ctx, "alice", state.KindBatteryState, []byte(`{"d1":"low"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "alice", state.KindBatteryState, []byte(`{"d1":"normal"}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, err = s.Get(ctx, "alice", state.KindBatteryState)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"d1":"normal"}` {
		t.Fatalf("expected overwritten document, got %q", data)
	}

	if err := s.Put(ctx, "bob", state.KindHistory, []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" {
		t.Fatalf("unexpected users %v", users)
	}

	if err := s.Delete(ctx, "alice", state.KindBatteryState); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	data, _ = s.Get(ctx, "alice", state.KindBatteryState)
	if data != nil {
		t.Fatalf("expected row deleted, got %q", data)
	}
}

func TestStoreServesTypedFacade(t *testing.T) {
	ctx := context.Background()
	st := state.NewStore(openTestStore(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	cool := model.CooldownMap{{DeviceID: "d1", EventKey: "geofence_g1_exit"}: 1700000000}
	if err := st.SaveCooldowns(ctx, "alice", cool); err != nil {
		t.Fatalf("SaveCooldowns: %v", err)
	}
	got, err := st.LoadCooldowns(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadCooldowns: %v", err)
	}
	if got[model.CooldownKey{DeviceID: "d1", EventKey: "geofence_g1_exit"}] != 1700000000 {
		t.Fatalf("unexpected cooldowns %v", got)
	}
}
