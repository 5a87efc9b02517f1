package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/tagwatch/tagwatch/internal/model"
)

// Store is the typed facade over a Backend. Decoding problems in a single
// entry are logged and the entry is dropped; a document that fails to parse
// as a whole loads as empty so the next save replaces it. Backend errors are
// returned to the caller.
type Store struct {
	backend Backend
	locks   *Locker
	logger  *slog.Logger
}

// NewStore wraps a backend with its own Locker.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{backend: backend, locks: NewLocker(), logger: logger}
}

// Backend exposes the raw backend (health checks, user listing).
func (s *Store) Backend() Backend {
	return s.backend
}

// Lock serialises work on one resource of one user.
func (s *Store) Lock(userID string, r Resource) func() {
	return s.locks.Lock(userID, r)
}

// Users lists every user with at least one stored document.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	return s.backend.Users(ctx)
}

// --------------------------------------------------------------------------
// Engine state
// --------------------------------------------------------------------------

func (s *Store) LoadMembership(ctx context.Context, userID string) (model.MembershipMap, error) {
	var raw map[string]string
	if err := s.load(ctx, userID, KindGeofenceState, &raw); err != nil {
		return nil, err
	}
	out := make(model.MembershipMap, len(raw))
	for k, v := range raw {
		key, err := model.ParseMembershipKey(k)
		if err != nil {
			s.logger.Warn("Dropping geofence state entry", "user_id", userID, "key", k, "error", err)
			continue
		}
		m, ok := model.ParseMembership(v)
		if !ok {
			s.logger.Warn("Dropping geofence state entry", "user_id", userID, "key", k, "value", v)
			continue
		}
		out[key] = m
	}
	return out, nil
}

func (s *Store) SaveMembership(ctx context.Context, userID string, m model.MembershipMap) error {
	raw := make(map[string]string, len(m))
	for k, v := range m {
		raw[k.String()] = string(v)
	}
	return s.save(ctx, userID, KindGeofenceState, raw)
}

func (s *Store) LoadBattery(ctx context.Context, userID string) (model.BatteryMap, error) {
	var raw map[string]string
	if err := s.load(ctx, userID, KindBatteryState, &raw); err != nil {
		return nil, err
	}
	out := make(model.BatteryMap, len(raw))
	for dev, v := range raw {
		b, ok := model.ParseBatteryBucket(v)
		if dev == "" || !ok {
			s.logger.Warn("Dropping battery state entry", "user_id", userID, "device_id", dev, "value", v)
			continue
		}
		out[dev] = b
	}
	return out, nil
}

func (s *Store) SaveBattery(ctx context.Context, userID string, m model.BatteryMap) error {
	raw := make(map[string]string, len(m))
	for dev, b := range m {
		raw[dev] = string(b)
	}
	return s.save(ctx, userID, KindBatteryState, raw)
}

func (s *Store) LoadCooldowns(ctx context.Context, userID string) (model.CooldownMap, error) {
	var raw map[string]float64
	if err := s.load(ctx, userID, KindCooldowns, &raw); err != nil {
		return nil, err
	}
	out := make(model.CooldownMap, len(raw))
	for k, v := range raw {
		key, err := model.ParseCooldownKey(k)
		if err != nil {
			s.logger.Warn("Dropping notification time entry", "user_id", userID, "key", k, "error", err)
			continue
		}
		out[key] = v
	}
	return out, nil
}

func (s *Store) SaveCooldowns(ctx context.Context, userID string, m model.CooldownMap) error {
	raw := make(map[string]float64, len(m))
	for k, v := range m {
		raw[k.String()] = v
	}
	return s.save(ctx, userID, KindCooldowns, raw)
}

// --------------------------------------------------------------------------
// History and subscriptions
// --------------------------------------------------------------------------

// LoadHistory returns entries in stored order (newest first).
func (s *Store) LoadHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error) {
	var entries []model.HistoryEntry
	if err := s.load(ctx, userID, KindHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SaveHistory(ctx context.Context, userID string, entries []model.HistoryEntry) error {
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return s.save(ctx, userID, KindHistory, entries)
}

func (s *Store) LoadSubscriptions(ctx context.Context, userID string) (model.SubscriptionSet, error) {
	var raw model.SubscriptionSet
	if err := s.load(ctx, userID, KindSubscriptions, &raw); err != nil {
		return nil, err
	}
	out := make(model.SubscriptionSet, len(raw))
	for endpoint, sub := range raw {
		if sub.Endpoint == "" {
			sub.Endpoint = endpoint
		}
		if err := sub.Validate(); err != nil {
			s.logger.Warn("Dropping invalid subscription", "user_id", userID, "error", err)
			continue
		}
		out[sub.Endpoint] = sub
	}
	return out, nil
}

func (s *Store) SaveSubscriptions(ctx context.Context, userID string, subs model.SubscriptionSet) error {
	if subs == nil {
		subs = model.SubscriptionSet{}
	}
	return s.save(ctx, userID, KindSubscriptions, subs)
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// LoadGeofences drops definitions that fail validation.
func (s *Store) LoadGeofences(ctx context.Context, userID string) (model.GeofenceSet, error) {
	var raw model.GeofenceSet
	if err := s.load(ctx, userID, KindGeofences, &raw); err != nil {
		return nil, err
	}
	out := make(model.GeofenceSet, len(raw))
	for id, g := range raw {
		if g.ID == "" {
			g.ID = id
		}
		if err := g.Validate(); err != nil {
			s.logger.Warn("Dropping invalid geofence", "user_id", userID, "geofence_id", id, "error", err)
			continue
		}
		out[id] = g
	}
	return out, nil
}

func (s *Store) SaveGeofences(ctx context.Context, userID string, set model.GeofenceSet) error {
	if set == nil {
		set = model.GeofenceSet{}
	}
	return s.save(ctx, userID, KindGeofences, set)
}

func (s *Store) LoadDevices(ctx context.Context, userID string) (model.DeviceSet, error) {
	var raw model.DeviceSet
	if err := s.load(ctx, userID, KindDevices, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = model.DeviceSet{}
	}
	return raw, nil
}

func (s *Store) SaveDevices(ctx context.Context, userID string, set model.DeviceSet) error {
	if set == nil {
		set = model.DeviceSet{}
	}
	return s.save(ctx, userID, KindDevices, set)
}

// --------------------------------------------------------------------------
// Report cache
// --------------------------------------------------------------------------

// LoadReports returns cached reports per device, newest first.
func (s *Store) LoadReports(ctx context.Context, userID string) (map[string][]model.Report, error) {
	var raw map[string][]model.Report
	if err := s.load(ctx, userID, KindReports, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string][]model.Report{}
	}
	return raw, nil
}

// AppendReport prepends r to the device's cache, keeping at most limit
// entries. Caller must hold ResourceReports.
func (s *Store) AppendReport(ctx context.Context, userID, deviceID string, r model.Report, limit int) error {
	all, err := s.LoadReports(ctx, userID)
	if err != nil {
		return err
	}
	list := append([]model.Report{r}, all[deviceID]...)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	all[deviceID] = list
	return s.save(ctx, userID, KindReports, all)
}

// DeleteDeviceReports drops a device from the report cache. Caller must hold
// ResourceReports.
func (s *Store) DeleteDeviceReports(ctx context.Context, userID, deviceID string) error {
	all, err := s.LoadReports(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := all[deviceID]; !ok {
		return nil
	}
	delete(all, deviceID)
	return s.save(ctx, userID, KindReports, all)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (s *Store) load(ctx context.Context, userID string, kind Kind, v any) error {
	data, err := s.backend.Get(ctx, userID, kind)
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Error("Corrupt state document, treating as empty",
			"user_id", userID, "kind", kind, "error", err)
		reflect.ValueOf(v).Elem().SetZero()
		return nil
	}
	return nil
}

func (s *Store) save(ctx context.Context, userID string, kind Kind, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := s.backend.Put(ctx, userID, kind, data); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}
