package notifications

import (
	"context"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

// ForgetGeofence purges membership and cooldown entries that reference a
// deleted geofence.
func (e *Engine) ForgetGeofence(ctx context.Context, userID, geofenceID string) error {
	defer e.store.Lock(userID, state.ResourceState)()

	st, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	for k := range st.membership {
		if k.GeofenceID == geofenceID {
			delete(st.membership, k)
			st.membershipDirty = true
		}
	}
	entry, exit := model.GeofenceEntryEvent(geofenceID), model.GeofenceExitEvent(geofenceID)
	for k := range st.cooldowns {
		if k.EventKey == entry || k.EventKey == exit {
			delete(st.cooldowns, k)
			st.cooldownsDirty = true
		}
	}
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.logger.Info("Cleaned state for deleted geofence", "user_id", userID, "geofence_id", geofenceID)
	return nil
}

// ForgetDevice purges membership, battery and cooldown entries of a device.
func (e *Engine) ForgetDevice(ctx context.Context, userID, deviceID string) error {
	defer e.store.Lock(userID, state.ResourceState)()

	st, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	e.dropDevices(st, func(id string) bool { return id == deviceID })
	if err := e.save(ctx, userID, st); err != nil {
		return err
	}
	e.logger.Info("Cleaned state for deleted device", "user_id", userID, "device_id", deviceID)
	return nil
}

// PruneStaleDevices purges state of every device not in valid and returns
// how many distinct devices were removed.
func (e *Engine) PruneStaleDevices(ctx context.Context, userID string, valid map[string]bool) (int, error) {
	defer e.store.Lock(userID, state.ResourceState)()

	st, err := e.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed := e.dropDevices(st, func(id string) bool { return !valid[id] })
	if err := e.save(ctx, userID, st); err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("Pruned stale device state", "user_id", userID, "devices", removed)
	}
	return removed, nil
}

func (e *Engine) dropDevices(st *userState, match func(deviceID string) bool) int {
	seen := map[string]bool{}
	for k := range st.membership {
		if match(k.DeviceID) {
			delete(st.membership, k)
			st.membershipDirty = true
			seen[k.DeviceID] = true
		}
	}
	for id := range st.battery {
		if match(id) {
			delete(st.battery, id)
			st.batteryDirty = true
			seen[id] = true
		}
	}
	for k := range st.cooldowns {
		if match(k.DeviceID) {
			delete(st.cooldowns, k)
			st.cooldownsDirty = true
			seen[k.DeviceID] = true
		}
	}
	return len(seen)
}
