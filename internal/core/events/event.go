package events

import (
	"math"
	"time"

	. "github.com/berfenger/eosconnect/internal/core/domain"
)

// TIMESTAMP_NONE clears a timestamp sensor in Home Assistant.
const TIMESTAMP_NONE = "None"

func StatusToUpdateEvents(status Status) []SensorUpdateEvent {
	var events []SensorUpdateEvent

	// Battery
	events = append(events, floatEvent(SENSOR_ID_BATTERY_SOC, status.Battery.SOCPercent, 1))
	events = append(events, floatEvent(SENSOR_ID_BATTERY_USABLE_ENERGY, status.Battery.UsableEnergyWh, 0))
	events = append(events, floatEvent(SENSOR_ID_BATTERY_MAX_CHARGE_POWER_DYN, status.Battery.MaxChargePowerDynW, 0))

	// Effective target, unknown until the first resolve
	if status.HasTarget {
		events = append(events, floatEvent(SENSOR_ID_AC_CHARGE_DEMAND, status.Target.ACChargeDemandW, 0))
		events = append(events, floatEvent(SENSOR_ID_DC_CHARGE_DEMAND, status.Target.DCChargeDemandW, 0))
		events = append(events, binaryEvent(SENSOR_ID_DISCHARGE_ALLOWED, status.Target.DischargeAllowed))
		events = append(events, textEvent(SENSOR_ID_INVERTER_MODE, status.Target.Mode.String()))
		events = append(events, textEvent(SENSOR_ID_TARGET_ORIGIN, string(status.Target.Origin)))
	}

	events = append(events, OverrideToUpdateEvents(status.Override, status.OverrideDuration, status.Timestamp)...)

	// Cycle
	events = append(events, textEvent(SENSOR_ID_CYCLE_STATE, string(status.Cycle.State)))
	events = append(events, textEvent(SENSOR_ID_CYCLE_LAST_RUN, timestamp(status.Cycle.LastRun)))
	events = append(events, textEvent(SENSOR_ID_CYCLE_NEXT_RUN, timestamp(status.Cycle.NextRun)))
	events = append(events, textEvent(SENSOR_ID_SOLVER_SCHEMA, status.Schema.String()))

	events = append(events, binaryEvent(SENSOR_ID_EVCC_CHARGING, status.EVCharging))

	if status.Telemetry != nil {
		events = append(events, TelemetryToUpdateEvents(status.Telemetry)...)
	}

	return events
}

// OverrideToUpdateEvents reports the override controls. An expired override
// shows as mode auto.
func OverrideToUpdateEvents(override OverrideState, duration time.Duration, now time.Time) []SensorUpdateEvent {
	var events []SensorUpdateEvent

	live := override.LiveAt(now)
	mode := OverrideModeAuto
	end := TIMESTAMP_NONE
	if live {
		mode = override.Mode
		end = timestamp(override.EndTime)
	}
	events = append(events, binaryEvent(SENSOR_ID_OVERRIDE_ACTIVE, live))
	events = append(events, textEvent(SENSOR_ID_OVERRIDE_END, end))
	events = append(events, SelectUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SELECT_ID_OVERRIDE_MODE,
		},
		Value: mode.String(),
	})
	if duration > 0 {
		events = append(events, InputNumberSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: INPUT_NUMBER_ID_OVERRIDE_DURATION,
			},
			Value: duration.Minutes(),
		})
	}
	if override.TargetGridChargePowerW > 0 {
		events = append(events, InputNumberSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: INPUT_NUMBER_ID_OVERRIDE_POWER,
			},
			Value: override.TargetGridChargePowerW,
		})
	}

	return events
}

// TelemetryToUpdateEvents publishes the hottest reported temperature.
func TelemetryToUpdateEvents(t *DeviceTelemetry) []SensorUpdateEvent {
	var events []SensorUpdateEvent
	if t == nil || len(t.Temperatures) == 0 {
		return events
	}
	hottest := math.Inf(-1)
	for _, v := range t.Temperatures {
		hottest = math.Max(hottest, v)
	}
	events = append(events, floatEvent(SENSOR_ID_DEVICE_TEMPERATURE, hottest, 1))
	return events
}

func floatEvent(id string, value float64, decimals uint) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    value,
		Decimals: decimals,
	}
}

func binaryEvent(id string, value bool) BinarySensorUpdateEvent {
	return BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value: value,
	}
}

func textEvent(id, value string) TextSensorUpdateEvent {
	return TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value: value,
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return TIMESTAMP_NONE
	}
	return t.Format(time.RFC3339)
}
