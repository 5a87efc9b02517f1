package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	data, err := b.Get(ctx, "alice", KindGeofenceState)
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil) for missing doc, got (%q, %v)", data, err)
	}

	if err := b.Put(ctx, "alice", KindGeofenceState, []byte(`{"a::b":"inside"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err = b.Get(ctx, "alice", KindGeofenceState)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"a::b":"inside"}` {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "alice", "geofence_state.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "alice"))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	if err := b.Put(ctx, "bob", KindHistory, []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	users, err := b.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("unexpected users %v", users)
	}

	if err := b.Delete(ctx, "alice", KindGeofenceState); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, "alice", KindGeofenceState); err != nil {
		t.Fatalf("Delete of missing doc should be a no-op: %v", err)
	}
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	for _, id := range []string{"", "..", "../etc", "a/b", `a\b`, ".hidden"} {
		if err := b.Put(context.Background(), id, KindHistory, []byte(`[]`)); !errors.Is(err, ErrInvalidUserID) {
			t.Fatalf("expected ErrInvalidUserID for %q, got %v", id, err)
		}
	}
}

func TestStoreMembershipCodec(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := NewStore(mem, testLogger())

	in := model.MembershipMap{
		{DeviceID: "d1", GeofenceID: "g1"}: model.MembershipInside,
		{DeviceID: "d1", GeofenceID: "g2"}: model.MembershipOutside,
	}
	if err := s.SaveMembership(ctx, "u", in); err != nil {
		t.Fatalf("SaveMembership: %v", err)
	}
	out, err := s.LoadMembership(ctx, "u")
	if err != nil {
		t.Fatalf("LoadMembership: %v", err)
	}
	if len(out) != 2 || out[model.MembershipKey{DeviceID: "d1", GeofenceID: "g1"}] != model.MembershipInside {
		t.Fatalf("unexpected membership %v", out)
	}
}

func TestStoreDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := NewStore(mem, testLogger())

	_ = mem.Put(ctx, "u", KindGeofenceState, []byte(`{"d1::g1":"inside","broken":"inside","d1::g2":"sideways"}`))
	_ = mem.Put(ctx, "u", KindBatteryState, []byte(`{"d1":"low","d2":"empty"}`))
	_ = mem.Put(ctx, "u", KindCooldowns, []byte(`{"d1::battery_low":1700000000.5,"nokey":1}`))

	m, err := s.LoadMembership(ctx, "u")
	if err != nil {
		t.Fatalf("LoadMembership: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 valid membership entry, got %v", m)
	}

	b, err := s.LoadBattery(ctx, "u")
	if err != nil {
		t.Fatalf("LoadBattery: %v", err)
	}
	if len(b) != 1 || b.Get("d1") != model.BatteryLow || b.Get("d2") != model.BatteryUnknown {
		t.Fatalf("unexpected battery map %v", b)
	}

	c, err := s.LoadCooldowns(ctx, "u")
	if err != nil {
		t.Fatalf("LoadCooldowns: %v", err)
	}
	if c[model.CooldownKey{DeviceID: "d1", EventKey: model.EventBatteryLow}] != 1700000000.5 || len(c) != 1 {
		t.Fatalf("unexpected cooldowns %v", c)
	}
}

func TestStoreCorruptDocumentLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := NewStore(mem, testLogger())

	_ = mem.Put(ctx, "u", KindGeofenceState, []byte(`{"d1::g1": "inside", `))
	m, err := s.LoadMembership(ctx, "u")
	if err != nil {
		t.Fatalf("expected corrupt document to load as empty, got %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}

type failingBackend struct{ MemoryBackend }

func (f *failingBackend) Get(context.Context, string, Kind) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestStorePropagatesBackendErrors(t *testing.T) {
	s := NewStore(&failingBackend{}, testLogger())
	if _, err := s.LoadCooldowns(context.Background(), "u"); err == nil {
		t.Fatal("expected backend error to propagate")
	}
}

func TestStoreAppendReportBounded(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(), testLogger())
	for i := 0; i < 5; i++ {
		ts := time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC).Format(time.RFC3339)
		if err := s.AppendReport(ctx, "u", "d1", model.Report{Timestamp: ts}, 3); err != nil {
			t.Fatalf("AppendReport: %v", err)
		}
	}
	all, err := s.LoadReports(ctx, "u")
	if err != nil {
		t.Fatalf("LoadReports: %v", err)
	}
	if len(all["d1"]) != 3 {
		t.Fatalf("expected 3 cached reports, got %d", len(all["d1"]))
	}
	if all["d1"][0].Timestamp != "2024-01-01T00:04:00Z" {
		t.Fatalf("expected newest first, got %q", all["d1"][0].Timestamp)
	}

	if err := s.DeleteDeviceReports(ctx, "u", "d1"); err != nil {
		t.Fatalf("DeleteDeviceReports: %v", err)
	}
	all, _ = s.LoadReports(ctx, "u")
	if _, ok := all["d1"]; ok {
		t.Fatal("expected device reports removed")
	}
}

func TestLockerSerialisesPerUserResource(t *testing.T) {
	l := NewLocker()
	var inside atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice", ResourceState)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen.Load())
	}
}

func TestLockerDoesNotBlockOtherUsers(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock("alice", ResourceState)
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := l.Lock("bob", ResourceState)
		u()
		u = l.Lock("alice", ResourceHistory)
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for another user or resource blocked")
	}
}
