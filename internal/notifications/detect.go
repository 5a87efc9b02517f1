package notifications

import "github.com/tagwatch/tagwatch/internal/model"

// event is the candidate notification a transition produces, before link
// flags and cooldown are applied.
type event int

const (
	eventNone event = iota
	eventEntry
	eventExit
	eventBatteryLow
	eventBatteryRecovered
)

// transition is the outcome of comparing a previous and current state.
type transition struct {
	record bool // persist the current state
	event  event
}

// geofenceTransition enumerates every (previous, current) membership pair.
// A first observation only records; unknown is never a current state but is
// handled so the table is total.
func geofenceTransition(prev, cur model.Membership) transition {
	switch prev {
	case model.MembershipUnknown:
		switch cur {
		case model.MembershipInside, model.MembershipOutside:
			return transition{record: true}
		case model.MembershipUnknown:
			return transition{}
		}
	case model.MembershipInside:
		switch cur {
		case model.MembershipInside:
			return transition{}
		case model.MembershipOutside:
			return transition{record: true, event: eventExit}
		case model.MembershipUnknown:
			return transition{}
		}
	case model.MembershipOutside:
		switch cur {
		case model.MembershipOutside:
			return transition{}
		case model.MembershipInside:
			return transition{record: true, event: eventEntry}
		case model.MembershipUnknown:
			return transition{}
		}
	}
	return transition{}
}

// batteryTransition enumerates every (previous, current) bucket pair. Only
// normal→low is notifiable; recovery is informational.
func batteryTransition(prev, cur model.BatteryBucket) transition {
	switch prev {
	case model.BatteryUnknown:
		switch cur {
		case model.BatteryLow, model.BatteryNormal:
			return transition{record: true}
		case model.BatteryUnknown:
			return transition{}
		}
	case model.BatteryNormal:
		switch cur {
		case model.BatteryNormal:
			return transition{}
		case model.BatteryLow:
			return transition{record: true, event: eventBatteryLow}
		case model.BatteryUnknown:
			return transition{}
		}
	case model.BatteryLow:
		switch cur {
		case model.BatteryLow:
			return transition{}
		case model.BatteryNormal:
			return transition{record: true, event: eventBatteryRecovered}
		case model.BatteryUnknown:
			return transition{}
		}
	}
	return transition{}
}
