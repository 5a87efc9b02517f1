package notifications

import (
	"context"
	"fmt"

	"github.com/tagwatch/tagwatch/internal/state"
)

const testGeofenceName = "Test Area"

// SendTestNotification pushes a synthetic notification for a configured
// device through the sink. It bypasses state and cooldown entirely.
func (e *Engine) SendTestNotification(ctx context.Context, userID, deviceID, testType string) (Notification, error) {
	unlock := e.store.Lock(userID, state.ResourceConfig)
	devices, err := e.store.LoadDevices(ctx, userID)
	unlock()
	if err != nil {
		return Notification{}, fmt.Errorf("load devices: %w", err)
	}
	device, ok := devices[deviceID]
	if !ok {
		return Notification{}, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}

	name := device.DisplayName(deviceID)
	data := map[string]any{
		"type":     "test",
		"deviceId": deviceID,
		"testType": testType,
	}

	var title, body string
	switch testType {
	case TestGeofenceEntry:
		title = fmt.Sprintf("%s Entered %s (Test)", name, testGeofenceName)
		body = fmt.Sprintf("This is a test notification for entering '%s'.", testGeofenceName)
		data["geofenceName"] = testGeofenceName
		data["eventType"] = "entry"
	case TestGeofenceExit:
		title = fmt.Sprintf("%s Exited %s (Test)", name, testGeofenceName)
		body = fmt.Sprintf("This is a test notification for exiting '%s'.", testGeofenceName)
		data["geofenceName"] = testGeofenceName
		data["eventType"] = "exit"
	case TestBatteryLow:
		level := e.cfg.LowBatteryThreshold - 1
		title = fmt.Sprintf("%s Battery Low (Test)", name)
		body = fmt.Sprintf("Test: Battery is low (%g%%).", level)
		data["level"] = level
	case TestGeneric:
		title = fmt.Sprintf("Test Notification for %s", name)
		body = "This is a generic test push message."
	default:
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownTestType, testType)
	}

	color := device.Color
	if color == "" {
		color = DefaultColor(deviceID)
	}
	n := Notification{
		Type:        TypeTest,
		Title:       title,
		Body:        body,
		Tag:         fmt.Sprintf("test-%s-%s-%d", deviceID, testType, e.cfg.Clock().Unix()),
		Data:        data,
		DeviceID:    deviceID,
		DeviceLabel: device.DisplayLabel(),
		DeviceColor: color,
	}
	e.logger.Info("Sending test notification", "user_id", userID, "device_id", deviceID, "test_type", testType)
	if err := e.sink.RecordAndDeliver(ctx, userID, n); err != nil {
		return n, fmt.Errorf("send test notification: %w", err)
	}
	return n, nil
}
