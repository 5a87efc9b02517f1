package notifications

import (
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/model"
)

func TestCooldownGate(t *testing.T) {
	gate := CooldownGate{Window: 300 * time.Second}
	ledger := model.CooldownMap{}
	key := model.CooldownKey{DeviceID: "dev1", EventKey: model.EventBatteryLow}
	t0 := time.Unix(1_700_000_000, 0)

	if !gate.CanSend(ledger, key, t0) {
		t.Fatal("never-sent key must be sendable")
	}
	gate.RecordSent(ledger, key, t0)

	if gate.CanSend(ledger, key, t0.Add(299*time.Second)) {
		t.Error("sendable inside the window")
	}
	if got := gate.Remaining(ledger, key, t0.Add(200*time.Second)); got != 100*time.Second {
		t.Errorf("Remaining = %v, want 100s", got)
	}
	if !gate.CanSend(ledger, key, t0.Add(300*time.Second)) {
		t.Error("window boundary must be sendable")
	}
	if got := gate.Remaining(ledger, key, t0.Add(301*time.Second)); got != 0 {
		t.Errorf("Remaining after window = %v", got)
	}

	other := model.CooldownKey{DeviceID: "dev2", EventKey: model.EventBatteryLow}
	if !gate.CanSend(ledger, other, t0) {
		t.Error("keys are independent per device")
	}

	gate.RecordSent(ledger, key, t0.Add(400*time.Second))
	if gate.CanSend(ledger, key, t0.Add(500*time.Second)) {
		t.Error("RecordSent must overwrite the previous time")
	}
}
