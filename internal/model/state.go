package model

import (
	"errors"
	"fmt"
	"strings"
)

// keySeparator joins composite keys in persisted documents only. Device and
// geofence ids may not contain it.
const keySeparator = "::"

var (
	ErrInvalidDeviceID   = errors.New("invalid device id")
	ErrInvalidGeofenceID = errors.New("invalid geofence id")
)

// ValidateDeviceID rejects ids that cannot round-trip through a state key.
func ValidateDeviceID(id string) error {
	if id == "" || strings.Contains(id, keySeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	return nil
}

// ValidateGeofenceID applies the same rule to geofence ids.
func ValidateGeofenceID(id string) error {
	if id == "" || strings.Contains(id, keySeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidGeofenceID, id)
	}
	return nil
}

// --------------------------------------------------------------------------
// Geofence membership
// --------------------------------------------------------------------------

// Membership is a device's last known relation to a geofence.
type Membership string

const (
	MembershipUnknown Membership = "unknown"
	MembershipInside  Membership = "inside"
	MembershipOutside Membership = "outside"
)

// ParseMembership maps persisted text back to a Membership.
func ParseMembership(s string) (Membership, bool) {
	switch Membership(s) {
	case MembershipInside, MembershipOutside, MembershipUnknown:
		return Membership(s), true
	}
	return MembershipUnknown, false
}

// MembershipFor converts an inside test result.
func MembershipFor(inside bool) Membership {
	if inside {
		return MembershipInside
	}
	return MembershipOutside
}

// MembershipKey identifies a (device, geofence) pair.
type MembershipKey struct {
	DeviceID   string
	GeofenceID string
}

func (k MembershipKey) String() string {
	return k.DeviceID + keySeparator + k.GeofenceID
}

// ParseMembershipKey decodes the persisted "device::geofence" form.
func ParseMembershipKey(s string) (MembershipKey, error) {
	a, b, err := splitKey(s)
	if err != nil {
		return MembershipKey{}, err
	}
	return MembershipKey{DeviceID: a, GeofenceID: b}, nil
}

// MembershipMap holds every known (device, geofence) membership. Absent keys
// read as unknown.
type MembershipMap map[MembershipKey]Membership

// Get returns the stored state or MembershipUnknown.
func (m MembershipMap) Get(k MembershipKey) Membership {
	if s, ok := m[k]; ok {
		return s
	}
	return MembershipUnknown
}

// --------------------------------------------------------------------------
// Battery bucket
// --------------------------------------------------------------------------

// BatteryBucket is a device's last known battery classification.
type BatteryBucket string

const (
	BatteryUnknown BatteryBucket = "unknown"
	BatteryLow     BatteryBucket = "low"
	BatteryNormal  BatteryBucket = "normal"
)

// ParseBatteryBucket maps persisted text back to a bucket.
func ParseBatteryBucket(s string) (BatteryBucket, bool) {
	switch BatteryBucket(s) {
	case BatteryLow, BatteryNormal, BatteryUnknown:
		return BatteryBucket(s), true
	}
	return BatteryUnknown, false
}

// BucketFor classifies a level against the low threshold. A level equal to
// the threshold is normal.
func BucketFor(level, threshold float64) BatteryBucket {
	if level < threshold {
		return BatteryLow
	}
	return BatteryNormal
}

// BatteryMap holds the bucket per device id.
type BatteryMap map[string]BatteryBucket

// Get returns the stored bucket or BatteryUnknown.
func (m BatteryMap) Get(deviceID string) BatteryBucket {
	if b, ok := m[deviceID]; ok {
		return b
	}
	return BatteryUnknown
}

// --------------------------------------------------------------------------
// Cooldown ledger
// --------------------------------------------------------------------------

// Event keys used for cooldown bookkeeping.
const EventBatteryLow = "battery_low"

// GeofenceEntryEvent is the cooldown event key for entering a geofence.
func GeofenceEntryEvent(geofenceID string) string {
	return "geofence_" + geofenceID + "_entry"
}

// GeofenceExitEvent is the cooldown event key for leaving a geofence.
func GeofenceExitEvent(geofenceID string) string {
	return "geofence_" + geofenceID + "_exit"
}

// CooldownKey identifies a (device, event) pair.
type CooldownKey struct {
	DeviceID string
	EventKey string
}

func (k CooldownKey) String() string {
	return k.DeviceID + keySeparator + k.EventKey
}

// ParseCooldownKey decodes the persisted "device::event" form.
func ParseCooldownKey(s string) (CooldownKey, error) {
	a, b, err := splitKey(s)
	if err != nil {
		return CooldownKey{}, err
	}
	return CooldownKey{DeviceID: a, EventKey: b}, nil
}

// CooldownMap records the last send time, in Unix seconds, per key.
type CooldownMap map[CooldownKey]float64

func splitKey(s string) (string, string, error) {
	a, b, ok := strings.Cut(s, keySeparator)
	if !ok || a == "" || b == "" {
		return "", "", fmt.Errorf("malformed state key %q", s)
	}
	return a, b, nil
}
