package domain

import (
	"fmt"
	"time"
)

// OverrideMode is the user facing mode of a manual override.
type OverrideMode int

const (
	OverrideModeAuto OverrideMode = iota
	OverrideModeChargeFromGrid
	OverrideModeDischarge
	OverrideModeIdle
	OverrideModePVOnly
)

var overrideModeNames = map[OverrideMode]string{
	OverrideModeAuto:           "auto",
	OverrideModeChargeFromGrid: "charge_from_grid",
	OverrideModeDischarge:      "discharge",
	OverrideModeIdle:           "idle",
	OverrideModePVOnly:         "pv_only",
}

func (m OverrideMode) String() string {
	if name, ok := overrideModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

func (m OverrideMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m OverrideMode) Valid() bool {
	_, ok := overrideModeNames[m]
	return ok
}

func OverrideModes() []OverrideMode {
	return []OverrideMode{OverrideModeAuto, OverrideModeChargeFromGrid, OverrideModeDischarge,
		OverrideModeIdle, OverrideModePVOnly}
}

// InverterMode is the device level semantic every backend understands.
type InverterMode int

const (
	InverterModeChargeFromGrid InverterMode = iota
	InverterModeAvoidDischarge
	InverterModeDischargeAllowed
)

func (m InverterMode) String() string {
	switch m {
	case InverterModeChargeFromGrid:
		return "charge_from_grid"
	case InverterModeAvoidDischarge:
		return "avoid_discharge"
	case InverterModeDischargeAllowed:
		return "discharge_allowed"
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

func (m InverterMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type TargetOrigin string

const (
	TargetOriginOverride TargetOrigin = "override"
	TargetOriginAuto     TargetOrigin = "auto"
	TargetOriginFallback TargetOrigin = "fallback"
)

type OverrideState struct {
	Mode                   OverrideMode `json:"mode"`
	TargetGridChargePowerW float64      `json:"target_grid_charge_power_w"`
	CreatedAt              time.Time    `json:"created_at"`
	EndTime                time.Time    `json:"end_time"`
	Active                 bool         `json:"active"`
}

// LiveAt reports whether the override still takes precedence at t.
func (o OverrideState) LiveAt(t time.Time) bool {
	return o.Active && t.Before(o.EndTime)
}

// AutoDecision is what the solver asks for in the current slot.
type AutoDecision struct {
	Mode             InverterMode
	ACChargeDemandW  float64
	DCChargeDemandW  float64
	DischargeAllowed bool
	Origin           TargetOrigin
}

type EffectiveTarget struct {
	Mode             InverterMode `json:"mode"`
	ACChargeDemandW  float64      `json:"ac_charge_demand_w"`
	DCChargeDemandW  float64      `json:"dc_charge_demand_w"`
	DischargeAllowed bool         `json:"discharge_allowed"`
	Origin           TargetOrigin `json:"origin"`
	OverrideMode     OverrideMode `json:"override_mode"`
}

// Dispatch is everything a backend needs to apply a target.
type Dispatch struct {
	Target             EffectiveTarget
	MaxChargePowerDynW float64
}

type BatteryState struct {
	SOCPercent         float64 `json:"soc_percent"`
	CapacityWh         float64 `json:"capacity_wh"`
	UsableEnergyWh     float64 `json:"usable_energy_wh"`
	MaxChargePowerDynW float64 `json:"max_charge_power_dyn"`
}

type CycleState string

const (
	CycleStateOK    CycleState = "ok"
	CycleStateError CycleState = "error"
)

type CyclePointer struct {
	LastRun   time.Time  `json:"last_run"`
	NextRun   time.Time  `json:"next_run"`
	State     CycleState `json:"state"`
	LastError string     `json:"last_error,omitempty"`
}

type DeviceTelemetry struct {
	Backend                string             `json:"backend"`
	Temperatures           map[string]float64 `json:"temperatures,omitempty"`
	FanPercent             map[string]float64 `json:"fan_percent,omitempty"`
	SOCPercent             *float64           `json:"soc_percent,omitempty"`
	StorageState           string             `json:"storage_state,omitempty"`
	ExternalChargingActive *bool              `json:"external_charging_active,omitempty"`
	ReadAt                 time.Time          `json:"read_at"`
}
