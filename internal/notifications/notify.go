// Package notifications decides when a device report warrants a push
// notification and delivers it.
//
// Pipeline: load state → evaluate geofence links and battery → gate by
// cooldown → persist changed state → record history → fan out to every
// push subscription.
package notifications

import (
	"context"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultCooldown     = 300 * time.Second
	defaultRetention    = 30 * 24 * time.Hour
	defaultLowThreshold = 15.0
	deliveryTimeout     = 30 * time.Second
)

// Notification types. They select the icon and badge of a push payload.
const (
	TypeGeofenceEntry = "geofence_entry"
	TypeGeofenceExit  = "geofence_exit"
	TypeBatteryLow    = "battery_low"
	TypeTest          = "test"
	TypeWelcome       = "welcome"
)

// Test notification kinds accepted by SendTestNotification.
const (
	TestGeofenceEntry = "geofence_entry"
	TestGeofenceExit  = "geofence_exit"
	TestBatteryLow    = "battery_low"
	TestGeneric       = "generic_test"
)

var (
	// ErrNotFound is returned when a history entry, device or subscription
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownTestType is returned for unsupported test notification kinds.
	ErrUnknownTestType = errors.New("unknown test notification type")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Notification is one message ready for history and push delivery.
type Notification struct {
	Type        string
	Title       string
	Body        string
	Tag         string
	Data        map[string]any
	DeviceID    string
	DeviceLabel string
	DeviceColor string
}

// isDeviceEvent reports whether the payload gets a device icon and action.
func (n Notification) isDeviceEvent() bool {
	switch n.Type {
	case TypeGeofenceEntry, TypeGeofenceExit, TypeBatteryLow:
		return true
	}
	return false
}

// Sink receives notifications emitted by the Engine.
type Sink interface {
	RecordAndDeliver(ctx context.Context, userID string, n Notification) error
}
