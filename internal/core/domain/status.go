package domain

import "time"

// Status is a consistent copy of the control loop state for query surfaces.
// OverrideDuration is what a mode change without a duration will use.
type Status struct {
	Target           EffectiveTarget       `json:"target"`
	HasTarget        bool                  `json:"has_target"`
	Override         OverrideState         `json:"override"`
	OverrideDuration time.Duration         `json:"-"`
	Battery          BatteryState          `json:"battery"`
	Cycle            CyclePointer          `json:"cycle"`
	Schema           SchemaVariant         `json:"schema"`
	Backend          string                `json:"backend"`
	Telemetry        *DeviceTelemetry      `json:"telemetry,omitempty"`
	EVCharging       bool                  `json:"evcc_charging"`
	LastRequest      *OptimizationRequest  `json:"-"`
	LastResponse     *OptimizationResponse `json:"-"`
	Timestamp        time.Time             `json:"timestamp"`
}
