package notifications

import (
	"time"

	"github.com/tagwatch/tagwatch/internal/model"
)

// CooldownGate suppresses repeat notifications for the same (device, event)
// within Window. It operates on a ledger the caller has already loaded and
// will persist.
type CooldownGate struct {
	Window time.Duration
}

// CanSend reports whether key has never been sent or was last sent at least
// Window ago.
func (g CooldownGate) CanSend(ledger model.CooldownMap, key model.CooldownKey, now time.Time) bool {
	last, ok := ledger[key]
	if !ok {
		return true
	}
	return unixSeconds(now)-last >= g.Window.Seconds()
}

// Remaining is how long key stays suppressed; zero when sendable.
func (g CooldownGate) Remaining(ledger model.CooldownMap, key model.CooldownKey, now time.Time) time.Duration {
	last, ok := ledger[key]
	if !ok {
		return 0
	}
	left := g.Window.Seconds() - (unixSeconds(now) - last)
	if left <= 0 {
		return 0
	}
	return time.Duration(left * float64(time.Second))
}

// RecordSent stamps key with now, replacing any earlier time.
func (g CooldownGate) RecordSent(ledger model.CooldownMap, key model.CooldownKey, now time.Time) {
	ledger[key] = unixSeconds(now)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
