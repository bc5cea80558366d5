package service

import "math"

const (
	DEFAULT_FULL_POWER_SOC = 50.0
	DEFAULT_CURVE_FLOOR_W  = 500.0
	chargePowerStepW       = 50.0
)

// ChargingCurve derives the dynamic charge power ceiling from the battery SoC.
// Up to FullPowerSOC the battery may charge at full power, above it the
// ceiling decays quadratically towards FloorW at 100%.
type ChargingCurve struct {
	FullPowerSOC float64
	FloorW       float64
}

func NewChargingCurve(fullPowerSOC, floorW float64) *ChargingCurve {
	if fullPowerSOC <= 0 || fullPowerSOC >= 100 {
		fullPowerSOC = DEFAULT_FULL_POWER_SOC
	}
	if floorW < 0 {
		floorW = DEFAULT_CURVE_FLOOR_W
	}
	return &ChargingCurve{
		FullPowerSOC: fullPowerSOC,
		FloorW:       floorW,
	}
}

// MaxChargePower returns configuredMaxW unchanged when the curve is disabled.
// An unknown SoC yields the floor.
func (c *ChargingCurve) MaxChargePower(socPercent, configuredMaxW float64, enabled bool) float64 {
	if !enabled {
		return configuredMaxW
	}
	if configuredMaxW <= 0 || math.IsNaN(configuredMaxW) {
		return 0
	}

	floor := math.Min(c.FloorW, configuredMaxW)
	if math.IsNaN(socPercent) {
		return floor
	}
	soc := math.Min(100, math.Max(0, socPercent))
	if soc <= c.FullPowerSOC {
		return configuredMaxW
	}

	remaining := 1 - (soc-c.FullPowerSOC)/(100-c.FullPowerSOC)
	power := floor + (configuredMaxW-floor)*remaining*remaining

	power = math.Round(power/chargePowerStepW) * chargePowerStepW
	power = math.Min(power, configuredMaxW)
	return math.Max(power, floor)
}
