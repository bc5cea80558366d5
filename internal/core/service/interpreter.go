package service

import (
	"math"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"go.uber.org/zap"
)

const DEFAULT_MAX_RESPONSE_AGE = 12 * time.Hour

// Interpreter maps a solver response onto the decision for the current hour.
type Interpreter struct {
	MaxGridChargeRateW float64
	MaxPVChargeRateW   float64
	MaxResponseAge     time.Duration
	Location           *time.Location
	Logger             *zap.Logger
}

// Interpret reads the slot covering now. It reports false when the response
// has no such slot or is older than MaxResponseAge.
func (i *Interpreter) Interpret(resp *domain.OptimizationResponse, now time.Time) (domain.AutoDecision, bool) {
	if resp == nil {
		return domain.AutoDecision{}, false
	}
	if i.MaxResponseAge > 0 && !resp.ReceivedAt.IsZero() && now.Sub(resp.ReceivedAt) > i.MaxResponseAge {
		return domain.AutoDecision{}, false
	}
	slot := i.slot(resp.DayStart, now)
	if slot < 0 || slot >= resp.Slots() {
		return domain.AutoDecision{}, false
	}

	ac := math.Round(clampUnit(resp.ACCharge[slot]) * i.MaxGridChargeRateW)
	dc := 0.0
	if slot < len(resp.DCCharge) {
		dc = math.Round(clampUnit(resp.DCCharge[slot]) * i.MaxPVChargeRateW)
	}
	discharge := bool(resp.DischargeAllowed[slot])

	decision := domain.AutoDecision{
		ACChargeDemandW:  ac,
		DCChargeDemandW:  dc,
		DischargeAllowed: discharge,
		Origin:           domain.TargetOriginAuto,
	}
	switch {
	case ac > 0:
		decision.Mode = domain.InverterModeChargeFromGrid
	case discharge:
		decision.Mode = domain.InverterModeDischargeAllowed
	default:
		decision.Mode = domain.InverterModeAvoidDischarge
	}
	return decision, true
}

// Decide interprets current, falls back to previous and finally to a safe
// default that neither charges from grid nor discharges.
func (i *Interpreter) Decide(current, previous *domain.OptimizationResponse, now time.Time) domain.AutoDecision {
	if d, ok := i.Interpret(current, now); ok {
		return d
	}
	if previous != nil && previous != current {
		if d, ok := i.Interpret(previous, now); ok {
			i.Logger.Warn("interpreter@fallback: current response has no slot for this hour, using previous response")
			return d
		}
	}
	if current != nil || previous != nil {
		i.Logger.Warn("interpreter@fallback: no valid response covers this hour, holding battery")
	}
	return SafeDecision(i.MaxPVChargeRateW)
}

// SafeDecision never discharges and never charges from grid. PV may still charge.
func SafeDecision(maxPVChargeRateW float64) domain.AutoDecision {
	return domain.AutoDecision{
		Mode:            domain.InverterModeAvoidDischarge,
		DCChargeDemandW: maxPVChargeRateW,
		Origin:          domain.TargetOriginFallback,
	}
}

// slot counts whole hours since dayStart in calendar terms so DST days keep
// hour 0 at local midnight.
func (i *Interpreter) slot(dayStart, now time.Time) int {
	loc := i.Location
	if loc == nil {
		loc = time.Local
	}
	y1, m1, d1 := dayStart.In(loc).Date()
	local := now.In(loc)
	y2, m2, d2 := local.Date()
	days := int(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC).Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	return days*24 + local.Hour()
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
