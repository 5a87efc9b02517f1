// Package poller periodically runs every user's devices through the
// decision engine.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

// DeviceReport pairs a configured device with its newest report, if any.
type DeviceReport struct {
	DeviceID string
	Config   model.DeviceConfig
	Report   *model.Report
}

// Fetcher returns every configured device of a user with its newest report.
type Fetcher interface {
	Fetch(ctx context.Context, userID string) ([]DeviceReport, error)
}

// Processor is the engine surface the poller drives.
type Processor interface {
	ProcessDeviceReport(ctx context.Context, userID, deviceID string, report *model.Report, device model.DeviceConfig) error
	PruneStaleDevices(ctx context.Context, userID string, valid map[string]bool) (int, error)
}

// UserLister enumerates users with stored data.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// --------------------------------------------------------------------------
// Cache fetcher
// --------------------------------------------------------------------------

// CacheFetcher reads device configs and the report cache from the store.
type CacheFetcher struct {
	store *state.Store
}

func NewCacheFetcher(store *state.Store) *CacheFetcher {
	return &CacheFetcher{store: store}
}

// Fetch returns devices sorted by id. Devices with no cached report have a
// nil Report.
func (f *CacheFetcher) Fetch(ctx context.Context, userID string) ([]DeviceReport, error) {
	unlock := f.store.Lock(userID, state.ResourceConfig)
	devices, err := f.store.LoadDevices(ctx, userID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}

	unlock = f.store.Lock(userID, state.ResourceReports)
	reports, err := f.store.LoadReports(ctx, userID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}

	out := make([]DeviceReport, 0, len(devices))
	for id, cfg := range devices {
		dr := DeviceReport{DeviceID: id, Config: cfg}
		if list := reports[id]; len(list) > 0 {
			r := list[0]
			dr.Report = &r
		}
		out = append(out, dr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// UserResult is the outcome of one user task.
type UserResult struct {
	UserID           string
	Devices          int
	DevicesProcessed int
	DevicesFailed    int
	StatePruned      int
	Success          bool
	Error            string
	Duration         time.Duration
}

// Summary returns a human-readable summary.
func (r *UserResult) Summary() string {
	status := "ok"
	if !r.Success {
		status = "FAILED"
	}
	return fmt.Sprintf("user=%s devices=%d processed=%d failed=%d pruned=%d status=%s dur=%s",
		r.UserID, r.Devices, r.DevicesProcessed, r.DevicesFailed, r.StatePruned,
		status, r.Duration.Round(time.Millisecond))
}

// CycleResult tracks the outcome of one polling cycle.
type CycleResult struct {
	UsersFound       int
	UsersSucceeded   int
	UsersFailed      int
	DevicesProcessed int
	DevicesFailed    int
	StatePruned      int
	Duration         time.Duration
	Errors           []string
	Results          []UserResult
}

// Summary returns a human-readable summary.
func (r *CycleResult) Summary() string {
	return fmt.Sprintf(
		"users=%d succeeded=%d failed=%d devices=%d device_failures=%d pruned=%d dur=%s",
		r.UsersFound, r.UsersSucceeded, r.UsersFailed, r.DevicesProcessed,
		r.DevicesFailed, r.StatePruned, r.Duration.Round(time.Millisecond))
}

// --------------------------------------------------------------------------
// Poller
// --------------------------------------------------------------------------

// Config tunes the polling loop.
type Config struct {
	Interval    time.Duration
	Jitter      time.Duration
	UserTimeout time.Duration
	Workers     int
}

// Poller runs a cycle every Interval plus up to Jitter.
type Poller struct {
	users     UserLister
	fetcher   Fetcher
	processor Processor
	cfg       Config
	logger    *slog.Logger
}

func New(users UserLister, fetcher Fetcher, processor Processor, cfg Config, logger *slog.Logger) *Poller {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = 2 * time.Minute
	}
	return &Poller{users: users, fetcher: fetcher, processor: processor, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, running a cycle immediately and then
// on every tick. Intended to be called with `go`.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller started", "interval", p.cfg.Interval, "jitter", p.cfg.Jitter, "workers", p.cfg.Workers)
	for {
		p.RunCycle(ctx)

		timer := time.NewTimer(p.nextDelay())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("Poller stopped")
			return
		}
	}
}

func (p *Poller) nextDelay() time.Duration {
	if p.cfg.Jitter <= 0 {
		return p.cfg.Interval
	}
	return p.cfg.Interval + time.Duration(rand.Int64N(int64(p.cfg.Jitter)))
}

// RunCycle processes every user once through a worker pool. One user's
// failure or timeout never affects the others and is not retried until the
// next cycle.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	var result CycleResult

	users, err := p.users.Users(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list users: %v", err))
		result.Duration = time.Since(start)
		p.logger.Error("Failed to list users", "error", err)
		return result
	}
	result.UsersFound = len(users)
	if len(users) == 0 {
		p.logger.Debug("No users to poll")
		result.Duration = time.Since(start)
		return result
	}

	workers := min(p.cfg.Workers, len(users))
	ch := make(chan string, len(users))
	for _, u := range users {
		ch <- u
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range ch {
				r := p.runUser(ctx, userID)

				mu.Lock()
				result.Results = append(result.Results, r)
				result.DevicesProcessed += r.DevicesProcessed
				result.DevicesFailed += r.DevicesFailed
				result.StatePruned += r.StatePruned
				if r.Success {
					result.UsersSucceeded++
				} else {
					result.UsersFailed++
					result.Errors = append(result.Errors, fmt.Sprintf("user %s: %s", r.UserID, r.Error))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(result.Results, func(i, j int) bool { return result.Results[i].UserID < result.Results[j].UserID })
	result.Duration = time.Since(start)
	p.logger.Info("Poll cycle complete", "summary", result.Summary())
	return result
}

func (p *Poller) runUser(parent context.Context, userID string) UserResult {
	start := time.Now()
	r := UserResult{UserID: userID}
	ctx, cancel := context.WithTimeout(parent, p.cfg.UserTimeout)
	defer cancel()

	var errs []error
	devices, err := p.fetcher.Fetch(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	} else {
		r.Devices = len(devices)
		valid := make(map[string]bool, len(devices))
		for _, d := range devices {
			valid[d.DeviceID] = true
			if d.Report == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Errorf("device %s: %w", d.DeviceID, err))
				r.DevicesFailed++
				continue
			}
			if err := p.processor.ProcessDeviceReport(ctx, userID, d.DeviceID, d.Report, d.Config); err != nil {
				errs = append(errs, fmt.Errorf("device %s: %w", d.DeviceID, err))
				r.DevicesFailed++
				continue
			}
			r.DevicesProcessed++
		}

		pruned, err := p.processor.PruneStaleDevices(ctx, userID, valid)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune stale devices: %w", err))
		}
		r.StatePruned = pruned
	}

	r.Duration = time.Since(start)
	if err := errors.Join(errs...); err != nil {
		r.Error = err.Error()
		p.logger.Warn("User poll failed", "user_id", userID, "error", err)
	} else {
		r.Success = true
	}
	p.logger.Debug("User poll complete", "summary", r.Summary())
	return r
}
