// Package state persists per-user documents: geofence membership, battery
// buckets, cooldown timestamps, notification history, push subscriptions,
// geofence and device configuration, and the latest report cache.
//
// Backends store opaque JSON blobs keyed by (user, kind). Store layers typed
// load/save on top and owns the string codec for composite keys.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names one per-user document.
type Kind string

const (
	KindGeofenceState Kind = "geofence_state"
	KindBatteryState  Kind = "battery_state"
	KindCooldowns     Kind = "notification_times"
	KindHistory       Kind = "notifications_history"
	KindSubscriptions Kind = "subscriptions"
	KindGeofences     Kind = "geofences"
	KindDevices       Kind = "devices"
	KindReports       Kind = "reports"
)

// Kinds lists every document kind, used when purging a user.
var Kinds = []Kind{
	KindGeofenceState, KindBatteryState, KindCooldowns, KindHistory,
	KindSubscriptions, KindGeofences, KindDevices, KindReports,
}

// Backend stores raw documents. Get returns (nil, nil) when absent.
type Backend interface {
	Get(ctx context.Context, userID string, kind Kind) ([]byte, error)
	Put(ctx context.Context, userID string, kind Kind, data []byte) error
	Delete(ctx context.Context, userID string, kind Kind) error
	Users(ctx context.Context) ([]string, error)
}

// HealthChecker is implemented by backends that can check their storage.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ErrInvalidUserID is returned for user ids that cannot be stored safely.
var ErrInvalidUserID = errors.New("invalid user id")

// ValidateUserID rejects empty ids and anything that could escape a
// per-user directory.
func ValidateUserID(userID string) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case userID == "." || userID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	case strings.ContainsAny(userID, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidUserID, userID)
	case strings.HasPrefix(userID, "."):
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}
