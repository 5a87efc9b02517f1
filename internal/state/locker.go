package state

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Resource names a lock domain within a user. Operations on different users,
// or on different resources of one user, never block each other.
type Resource string

const (
	// ResourceState guards membership, battery and cooldown documents.
	ResourceState Resource = "state"
	// ResourceHistory guards the notification history.
	ResourceHistory Resource = "history"
	// ResourceSubscriptions guards the push subscription set.
	ResourceSubscriptions Resource = "subscriptions"
	// ResourceConfig guards geofence and device configuration.
	ResourceConfig Resource = "config"
	// ResourceReports guards the latest report cache.
	ResourceReports Resource = "reports"
)

type lockKey struct {
	userID   string
	resource Resource
}

// Locker hands out one mutex per (user, resource), created on first use.
type Locker struct {
	locks *xsync.Map[lockKey, *sync.Mutex]
}

func NewLocker() *Locker {
	return &Locker{locks: xsync.NewMap[lockKey, *sync.Mutex]()}
}

// Lock blocks until the (user, resource) mutex is held and returns its
// release func.
func (l *Locker) Lock(userID string, r Resource) func() {
	mu, _ := l.locks.LoadOrCompute(lockKey{userID, r}, func() (*sync.Mutex, bool) {
		return &sync.Mutex{}, false
	})
	mu.Lock()
	return mu.Unlock
}
