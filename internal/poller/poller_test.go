package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticUsers []string

func (u staticUsers) Users(context.Context) ([]string, error) { return u, nil }

type mapFetcher struct {
	devices map[string][]DeviceReport
	fail    map[string]error
}

func (f *mapFetcher) Fetch(_ context.Context, userID string) ([]DeviceReport, error) {
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	return f.devices[userID], nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed map[string][]string
	pruned    map[string]map[string]bool
	fail      map[string]error
	block     map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		processed: map[string][]string{},
		pruned:    map[string]map[string]bool{},
		fail:      map[string]error{},
		block:     map[string]bool{},
	}
}

func (p *fakeProcessor) ProcessDeviceReport(ctx context.Context, userID, deviceID string, _ *model.Report, _ model.DeviceConfig) error {
	if p.block[userID] {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[deviceID]; err != nil {
		return err
	}
	p.processed[userID] = append(p.processed[userID], deviceID)
	return nil
}

func (p *fakeProcessor) PruneStaleDevices(_ context.Context, userID string, valid map[string]bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruned[userID] = valid
	return 0, nil
}

func withReport(id string) DeviceReport {
	return DeviceReport{DeviceID: id, Report: &model.Report{Timestamp: "2024-05-01T10:00:00Z"}}
}

func TestRunCycleIsolatesUserFailures(t *testing.T) {
	fetcher := &mapFetcher{
		devices: map[string][]DeviceReport{
			"alice": {withReport("a1"), withReport("a2"), {DeviceID: "a3"}},
			"bob":   {withReport("b1"), withReport("b2")},
		},
		fail: map[string]error{"carol": errors.New("store offline")},
	}
	proc := newFakeProcessor()
	proc.fail["b1"] = errors.New("save failed")

	p := New(staticUsers{"alice", "bob", "carol"}, fetcher, proc, Config{Workers: 2, UserTimeout: time.Second}, testLogger())
	res := p.RunCycle(context.Background())

	if res.UsersFound != 3 || res.UsersSucceeded != 1 || res.UsersFailed != 2 {
		t.Fatalf("summary = %s", res.Summary())
	}
	if res.DevicesProcessed != 3 || res.DevicesFailed != 1 {
		t.Fatalf("devices processed=%d failed=%d", res.DevicesProcessed, res.DevicesFailed)
	}
	if got := proc.processed["bob"]; len(got) != 1 || got[0] != "b2" {
		t.Errorf("a failing device must not stop the others: %v", got)
	}
	if valid := proc.pruned["alice"]; len(valid) != 3 || !valid["a3"] {
		t.Errorf("devices without reports still count as valid: %v", valid)
	}
	if _, ok := proc.pruned["carol"]; ok {
		t.Error("no pruning when the fetch failed")
	}
	if len(res.Results) != 3 || res.Results[0].UserID != "alice" || !res.Results[0].Success {
		t.Errorf("results = %+v", res.Results)
	}
	if !strings.Contains(strings.Join(res.Errors, ";"), "store offline") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestRunCycleUserTimeout(t *testing.T) {
	fetcher := &mapFetcher{devices: map[string][]DeviceReport{
		"slow": {withReport("s1")},
		"fast": {withReport("f1")},
	}}
	proc := newFakeProcessor()
	proc.block["slow"] = true

	p := New(staticUsers{"slow", "fast"}, fetcher, proc, Config{Workers: 2, UserTimeout: 50 * time.Millisecond}, testLogger())
	res := p.RunCycle(context.Background())

	if res.UsersSucceeded != 1 || res.UsersFailed != 1 {
		t.Fatalf("summary = %s", res.Summary())
	}
	if len(proc.processed["fast"]) != 1 {
		t.Error("other users keep running while one times out")
	}
}

func TestRunCycleNoUsers(t *testing.T) {
	p := New(staticUsers{}, &mapFetcher{}, newFakeProcessor(), Config{}, testLogger())
	res := p.RunCycle(context.Background())
	if res.UsersFound != 0 || len(res.Errors) != 0 {
		t.Fatalf("summary = %s", res.Summary())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := New(staticUsers{}, &mapFetcher{}, newFakeProcessor(), Config{Interval: time.Hour}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextDelayWithinJitter(t *testing.T) {
	p := New(staticUsers{}, &mapFetcher{}, newFakeProcessor(), Config{Interval: time.Minute, Jitter: 10 * time.Second}, testLogger())
	for range 50 {
		d := p.nextDelay()
		if d < time.Minute || d >= time.Minute+10*time.Second {
			t.Fatalf("delay %v outside [1m, 1m10s)", d)
		}
	}
}

func TestCacheFetcher(t *testing.T) {
	ctx := context.Background()
	store := state.NewStore(state.NewMemoryBackend(), testLogger())
	devices := model.DeviceSet{"b": {Name: "Bag"}, "a": {Name: "Keys"}}
	if err := store.SaveDevices(ctx, "alice", devices); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendReport(ctx, "alice", "a", model.Report{Timestamp: "old"}, 10); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendReport(ctx, "alice", "a", model.Report{Timestamp: "new"}, 10); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendReport(ctx, "alice", "ghost", model.Report{Timestamp: "x"}, 10); err != nil {
		t.Fatal(err)
	}

	got, err := NewCacheFetcher(store).Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0].DeviceID != "a" || got[1].DeviceID != "b" {
		t.Fatalf("devices = %+v", got)
	}
	if got[0].Report == nil || got[0].Report.Timestamp != "new" || got[0].Config.Name != "Keys" {
		t.Errorf("device a = %+v", got[0])
	}
	if got[1].Report != nil {
		t.Errorf("device b has no cached report, got %+v", got[1].Report)
	}
}
