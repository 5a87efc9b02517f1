package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tagwatch/tagwatch/internal/battery"
	"github.com/tagwatch/tagwatch/internal/geo"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

// EngineConfig tunes the decision engine. Zero values take defaults.
type EngineConfig struct {
	LowBatteryThreshold float64
	Cooldown            time.Duration
	Location            *time.Location   // display zone for absolute times
	Clock               func() time.Time // defaults to time.Now
}

// Engine turns device reports into state transitions and notifications.
type Engine struct {
	store  *state.Store
	sink   Sink
	gate   CooldownGate
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine wires an engine to its store and notification sink.
func NewEngine(store *state.Store, sink Sink, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.LowBatteryThreshold <= 0 {
		cfg.LowBatteryThreshold = defaultLowThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		store:  store,
		sink:   sink,
		gate:   CooldownGate{Window: cfg.Cooldown},
		cfg:    cfg,
		logger: logger,
	}
}

// userState is everything one ProcessDeviceReport call reads and may write.
type userState struct {
	geofences  model.GeofenceSet
	membership model.MembershipMap
	battery    model.BatteryMap
	cooldowns  model.CooldownMap

	membershipDirty bool
	batteryDirty    bool
	cooldownsDirty  bool
}

// ProcessDeviceReport evaluates one report for one device: geofence
// membership for every linked geofence, then the battery bucket. State is
// loaded once and each changed map is saved once. Emitted notifications are
// handed to the sink after the user's state lock is released, including when
// a save failed; the save error is returned after delivery.
func (e *Engine) ProcessDeviceReport(ctx context.Context, userID, deviceID string, report *model.Report, device model.DeviceConfig) error {
	if report == nil {
		return nil
	}
	if err := model.ValidateDeviceID(deviceID); err != nil {
		return fmt.Errorf("process report: %w", err)
	}

	unlock := e.store.Lock(userID, state.ResourceState)
	pending, err := e.evaluate(ctx, userID, deviceID, report, device)
	unlock()

	for _, n := range pending {
		if serr := e.sink.RecordAndDeliver(ctx, userID, n); serr != nil {
			e.logger.Warn("Notification sink failed",
				"user_id", userID, "device_id", deviceID, "type", n.Type, "error", serr)
		}
	}
	return err
}

func (e *Engine) evaluate(ctx context.Context, userID, deviceID string, report *model.Report, device model.DeviceConfig) ([]Notification, error) {
	st, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	ec := eventContext{
		deviceID: deviceID,
		device:   device,
		report:   report,
		now:      e.cfg.Clock(),
		loc:      e.cfg.Location,
	}

	var pending []Notification
	if report.HasLocation() {
		for _, link := range device.ResolveLinks(st.geofences) {
			n, err := e.evaluateLink(userID, ec, link, st)
			if err != nil {
				e.logger.Warn("Geofence check failed",
					"user_id", userID, "device_id", deviceID, "geofence_id", link.ID, "error", err)
				continue
			}
			if n != nil {
				pending = append(pending, *n)
			}
		}
	} else {
		e.logger.Debug("Report has no location, skipping geofences",
			"user_id", userID, "device_id", deviceID)
	}

	if n := e.evaluateBattery(userID, ec, st); n != nil {
		pending = append(pending, *n)
	}

	// Transitions already happened in memory; deliver them even if a save fails.
	return pending, e.save(ctx, userID, st)
}

func (e *Engine) load(ctx context.Context, userID string) (*userState, error) {
	geofences, err := e.store.LoadGeofences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load geofences: %w", err)
	}
	membership, err := e.store.LoadMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load geofence state: %w", err)
	}
	batt, err := e.store.LoadBattery(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load battery state: %w", err)
	}
	cooldowns, err := e.store.LoadCooldowns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notification times: %w", err)
	}
	return &userState{
		geofences:  geofences,
		membership: membership,
		battery:    batt,
		cooldowns:  cooldowns,
	}, nil
}

// save attempts every dirty map even if an earlier one fails.
func (e *Engine) save(ctx context.Context, userID string, st *userState) error {
	var errs []error
	if st.membershipDirty {
		if err := e.store.SaveMembership(ctx, userID, st.membership); err != nil {
			errs = append(errs, err)
		}
	}
	if st.batteryDirty {
		if err := e.store.SaveBattery(ctx, userID, st.battery); err != nil {
			errs = append(errs, err)
		}
	}
	if st.cooldownsDirty {
		if err := e.store.SaveCooldowns(ctx, userID, st.cooldowns); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist state for user %s: %w", userID, errors.Join(errs...))
	}
	return nil
}

// evaluateLink updates membership for one link and returns the notification
// to emit, if any. Links with both flags off still track membership so
// enabling a flag later does not fire on stale state.
func (e *Engine) evaluateLink(userID string, ec eventContext, link model.GeofenceLink, st *userState) (*Notification, error) {
	g := st.geofences[link.ID]
	if err := g.Validate(); err != nil {
		return nil, err
	}

	inside, distance := geo.Contains(g, *ec.report.Lat, *ec.report.Lon)
	key := model.MembershipKey{DeviceID: ec.deviceID, GeofenceID: g.ID}
	prev := st.membership.Get(key)
	cur := model.MembershipFor(inside)

	t := geofenceTransition(prev, cur)
	if t.record {
		st.membership[key] = cur
		st.membershipDirty = true
		e.logger.Info("Geofence state change",
			"user_id", userID, "device_id", ec.deviceID, "geofence_id", g.ID,
			"geofence", g.Name, "from", prev, "to", cur)
	}

	var eventKey string
	switch t.event {
	case eventEntry:
		if !link.NotifyEntry {
			return nil, nil
		}
		eventKey = model.GeofenceEntryEvent(g.ID)
	case eventExit:
		if !link.NotifyExit {
			return nil, nil
		}
		eventKey = model.GeofenceExitEvent(g.ID)
	default:
		return nil, nil
	}

	ck := model.CooldownKey{DeviceID: ec.deviceID, EventKey: eventKey}
	if !e.gate.CanSend(st.cooldowns, ck, ec.now) {
		e.logger.Info("Geofence notification skipped (cooldown)",
			"user_id", userID, "device_id", ec.deviceID, "event", eventKey,
			"remaining", e.gate.Remaining(st.cooldowns, ck, ec.now).Round(time.Second))
		return nil, nil
	}
	e.gate.RecordSent(st.cooldowns, ck, ec.now)
	st.cooldownsDirty = true

	n := geofenceNotification(ec, g, t.event == eventEntry, distance)
	return &n, nil
}

// evaluateBattery updates the battery bucket and returns a low-battery
// notification when the device just dropped from normal to low.
func (e *Engine) evaluateBattery(userID string, ec eventContext, st *userState) *Notification {
	res := battery.Classify(ec.report.Battery, ec.report.Status, e.cfg.LowBatteryThreshold)
	if !res.HasLevel {
		e.logger.Debug("No battery level in report", "user_id", userID, "device_id", ec.deviceID, "label", res.Label)
		return nil
	}

	prev := st.battery.Get(ec.deviceID)
	cur := model.BucketFor(res.Level, e.cfg.LowBatteryThreshold)

	t := batteryTransition(prev, cur)
	if t.record {
		st.battery[ec.deviceID] = cur
		st.batteryDirty = true
		e.logger.Info("Battery state change",
			"user_id", userID, "device_id", ec.deviceID, "from", prev, "to", cur, "level", res.Level)
	}

	switch t.event {
	case eventBatteryLow:
	case eventBatteryRecovered:
		e.logger.Info("Battery level back to normal",
			"user_id", userID, "device_id", ec.deviceID, "level", res.Level)
		return nil
	default:
		return nil
	}

	ck := model.CooldownKey{DeviceID: ec.deviceID, EventKey: model.EventBatteryLow}
	if !e.gate.CanSend(st.cooldowns, ck, ec.now) {
		e.logger.Info("Low battery notification skipped (cooldown)",
			"user_id", userID, "device_id", ec.deviceID,
			"remaining", e.gate.Remaining(st.cooldowns, ck, ec.now).Round(time.Second))
		return nil
	}
	e.gate.RecordSent(st.cooldowns, ck, ec.now)
	st.cooldownsDirty = true

	n := batteryNotification(ec, res.Level)
	return &n
}
