package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultDeviceLabel is shown when a device has no configured label.
const DefaultDeviceLabel = "❓"

// Geofence is a named circular region owned by a user.
type Geofence struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

// Geofence validation errors.
var (
	ErrGeofenceName     = errors.New("geofence name is required")
	ErrGeofenceRadius   = errors.New("geofence radius must be positive")
	ErrGeofenceLat      = errors.New("geofence latitude must be within [-90, 90]")
	ErrGeofenceLng      = errors.New("geofence longitude must be within [-180, 180]")
	ErrGeofenceConflict = errors.New("geofence name already in use")
)

// Validate checks a single geofence definition.
func (g Geofence) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrGeofenceName
	}
	if !(g.Radius > 0) || math.IsInf(g.Radius, 0) {
		return ErrGeofenceRadius
	}
	if math.IsNaN(g.Lat) || g.Lat < -90 || g.Lat > 90 {
		return ErrGeofenceLat
	}
	if math.IsNaN(g.Lng) || g.Lng < -180 || g.Lng > 180 {
		return ErrGeofenceLng
	}
	return nil
}

// GeofenceSet is a user's geofences keyed by id.
type GeofenceSet map[string]Geofence

// Put validates g and its id and inserts or replaces it. Names are unique per user,
// compared case-insensitively.
func (s GeofenceSet) Put(g Geofence) error {
	g.Name = strings.TrimSpace(g.Name)
	if err := ValidateGeofenceID(g.ID); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	for id, other := range s {
		if id != g.ID && strings.EqualFold(other.Name, g.Name) {
			return fmt.Errorf("%w: %q", ErrGeofenceConflict, g.Name)
		}
	}
	s[g.ID] = g
	return nil
}

// GeofenceLink attaches a geofence to a device with per-direction flags.
type GeofenceLink struct {
	ID          string `json:"id"`
	NotifyEntry bool   `json:"notify_entry"`
	NotifyExit  bool   `json:"notify_exit"`
}

// DeviceConfig is the user's display and notification config for a device.
type DeviceConfig struct {
	Name            string         `json:"name,omitempty"`
	Label           string         `json:"label,omitempty"`
	Color           string         `json:"color,omitempty"`
	Model           string         `json:"model,omitempty"`
	LinkedGeofences []GeofenceLink `json:"linked_geofences,omitempty"`
}

// DisplayName falls back to the device id when no name is configured.
func (d DeviceConfig) DisplayName(deviceID string) string {
	if d.Name != "" {
		return d.Name
	}
	return deviceID
}

// DisplayLabel falls back to DefaultDeviceLabel.
func (d DeviceConfig) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return DefaultDeviceLabel
}

// ResolveLinks returns the links whose geofence exists in set, in order.
func (d DeviceConfig) ResolveLinks(set GeofenceSet) []GeofenceLink {
	out := make([]GeofenceLink, 0, len(d.LinkedGeofences))
	for _, l := range d.LinkedGeofences {
		if l.ID == "" {
			continue
		}
		if _, ok := set[l.ID]; ok {
			out = append(out, l)
		}
	}
	return out
}

// DeviceSet is a user's device configs keyed by device id.
type DeviceSet map[string]DeviceConfig

// --------------------------------------------------------------------------
// Push subscriptions
// --------------------------------------------------------------------------

const (
	SubscriptionWebPush = "webpush"
	SubscriptionFCM     = "fcm"
)

// SubscriptionKeys are the Web Push encryption keys.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one delivery target. For FCM the endpoint holds the
// registration token.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
	Kind     string           `json:"kind,omitempty"`
}

// IsFCM reports whether the subscription is an FCM registration token.
func (s Subscription) IsFCM() bool {
	return s.Kind == SubscriptionFCM
}

// ErrInvalidSubscription is returned for malformed subscriptions.
var ErrInvalidSubscription = errors.New("invalid push subscription")

// Validate checks required fields for the subscription kind.
func (s Subscription) Validate() error {
	switch s.Kind {
	case SubscriptionFCM:
		if strings.TrimSpace(s.Endpoint) == "" {
			return fmt.Errorf("%w: empty registration token", ErrInvalidSubscription)
		}
		return nil
	case "", SubscriptionWebPush:
		if !strings.HasPrefix(s.Endpoint, "https://") {
			return fmt.Errorf("%w: endpoint must be https", ErrInvalidSubscription)
		}
		if s.Keys.P256dh == "" || s.Keys.Auth == "" {
			return fmt.Errorf("%w: missing keys", ErrInvalidSubscription)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSubscription, s.Kind)
	}
}

// SubscriptionSet is keyed by endpoint.
type SubscriptionSet map[string]Subscription

// --------------------------------------------------------------------------
// Notification history
// --------------------------------------------------------------------------

// HistoryEntry is one recorded notification, shown newest first.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data"`
	IsRead    bool           `json:"is_read"`
}
