package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"go.uber.org/zap"
)

// ModeController owns the override state and derives the effective target.
type ModeController struct {
	Store              *Store
	MaxGridChargeRateW float64
	MaxPVChargeRateW   float64
	Now                func() time.Time
	Logger             *zap.Logger
}

func (m *ModeController) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Resolve combines the automatic decision with a live override and stores
// the result as the effective target.
func (m *ModeController) Resolve(now time.Time, auto domain.AutoDecision) domain.EffectiveTarget {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	m.Store.auto = auto
	m.Store.hasAuto = true
	return m.resolveLocked(now)
}

// resolveLocked expects Store.mu to be held.
func (m *ModeController) resolveLocked(now time.Time) domain.EffectiveTarget {
	s := m.Store
	if s.override.Active && !s.override.LiveAt(now) {
		m.Logger.Info("mode_controller@expire: override expired, back to auto",
			zap.Stringer("mode", s.override.Mode), zap.Time("end_time", s.override.EndTime))
		s.override.Active = false
		s.override.Mode = domain.OverrideModeAuto
	}

	var target domain.EffectiveTarget
	if s.override.LiveAt(now) {
		target = m.overrideTarget(s.override)
	} else {
		auto := s.auto
		if !s.hasAuto {
			auto = SafeDecision(m.MaxPVChargeRateW)
		}
		target = domain.EffectiveTarget{
			Mode:             auto.Mode,
			ACChargeDemandW:  auto.ACChargeDemandW,
			DCChargeDemandW:  auto.DCChargeDemandW,
			DischargeAllowed: auto.DischargeAllowed,
			Origin:           auto.Origin,
			OverrideMode:     domain.OverrideModeAuto,
		}
	}
	s.target = target
	s.hasTarget = true
	return target
}

func (m *ModeController) overrideTarget(o domain.OverrideState) domain.EffectiveTarget {
	target := domain.EffectiveTarget{
		Origin:       domain.TargetOriginOverride,
		OverrideMode: o.Mode,
	}
	switch o.Mode {
	case domain.OverrideModeChargeFromGrid:
		target.Mode = domain.InverterModeChargeFromGrid
		target.ACChargeDemandW = o.TargetGridChargePowerW
	case domain.OverrideModeDischarge:
		target.Mode = domain.InverterModeDischargeAllowed
		target.DCChargeDemandW = m.MaxPVChargeRateW
		target.DischargeAllowed = true
	case domain.OverrideModeIdle:
		target.Mode = domain.InverterModeAvoidDischarge
	case domain.OverrideModePVOnly:
		target.Mode = domain.InverterModeAvoidDischarge
		target.DCChargeDemandW = m.MaxPVChargeRateW
	}
	return target
}

// Target re-resolves the effective target against the stored automatic decision.
func (m *ModeController) Target(now time.Time) domain.EffectiveTarget {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	return m.resolveLocked(now)
}

func (m *ModeController) Override() domain.OverrideState {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	return m.Store.override
}

// OverrideLive reports whether an override takes precedence at now.
func (m *ModeController) OverrideLive(now time.Time) bool {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	return m.Store.override.LiveAt(now)
}

// SetOverride activates mode for duration ("HH:MM"). Mode auto clears any override.
// Invalid input leaves the state untouched.
func (m *ModeController) SetOverride(mode string, duration string, gridChargePowerKW float64) (domain.OverrideState, error) {
	overrideMode, err := ParseOverrideMode(mode)
	if err != nil {
		return m.Override(), err
	}
	if overrideMode == domain.OverrideModeAuto {
		return m.ClearOverride(), nil
	}
	d, err := ParseOverrideDuration(duration)
	if err != nil {
		return m.Override(), err
	}
	if math.IsNaN(gridChargePowerKW) || math.IsInf(gridChargePowerKW, 0) {
		return m.Override(), &domain.InvalidOverrideError{Field: "grid_charge_power",
			Value: fmt.Sprint(gridChargePowerKW), Reason: "not a number"}
	}

	now := m.now()
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	m.Store.override = domain.OverrideState{
		Mode:                   overrideMode,
		TargetGridChargePowerW: m.clampPower(gridChargePowerKW * 1000),
		CreatedAt:              now,
		EndTime:                now.Add(d),
		Active:                 true,
	}
	m.Store.lastDuration = d
	m.resolveLocked(now)
	m.Logger.Info("mode_controller@override: override set",
		zap.Stringer("mode", overrideMode), zap.Time("end_time", m.Store.override.EndTime),
		zap.Float64("grid_charge_power_w", m.Store.override.TargetGridChargePowerW))
	return m.Store.override, nil
}

// SetOverrideDuration stores duration for the next override and, when an
// override is live, moves its end time to now + duration. It never
// reactivates an expired override.
func (m *ModeController) SetOverrideDuration(duration string) (domain.OverrideState, error) {
	d, err := ParseOverrideDuration(duration)
	if err != nil {
		return m.Override(), err
	}

	now := m.now()
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	m.Store.lastDuration = d
	if m.Store.override.LiveAt(now) {
		m.Store.override.EndTime = now.Add(d)
		m.Logger.Info("mode_controller@override: override duration changed", zap.Time("end_time", m.Store.override.EndTime))
	} else {
		m.Logger.Info("mode_controller@override: duration stored for the next override", zap.Duration("duration", d))
	}
	m.resolveLocked(now)
	return m.Store.override, nil
}

// SetOverridePowerW changes the grid charge power of the override. Without a
// live override the power is kept for the next one.
func (m *ModeController) SetOverridePowerW(powerW int) (domain.OverrideState, error) {
	now := m.now()
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	m.Store.override.TargetGridChargePowerW = m.clampPower(float64(powerW))
	m.resolveLocked(now)
	m.Logger.Info("mode_controller@override: override power changed",
		zap.Float64("grid_charge_power_w", m.Store.override.TargetGridChargePowerW),
		zap.Bool("live", m.Store.override.LiveAt(now)))
	return m.Store.override, nil
}

func (m *ModeController) ClearOverride() domain.OverrideState {
	now := m.now()
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	if m.Store.override.Active {
		m.Logger.Info("mode_controller@override: override cleared", zap.Stringer("mode", m.Store.override.Mode))
	}
	m.Store.override.Active = false
	m.Store.override.Mode = domain.OverrideModeAuto
	m.resolveLocked(now)
	return m.Store.override
}

// Execute routes a transport command to the matching operation.
func (m *ModeController) Execute(cmd domain.OverrideCommand) (domain.OverrideState, error) {
	switch c := cmd.(type) {
	case *domain.SetOverrideCommand:
		duration := c.Duration
		if duration == "" {
			duration = FormatOverrideDuration(m.Store.LastOverrideDuration())
		}
		powerKW := c.GridChargePowerKW
		if !c.GridChargePowerGiven {
			powerKW = m.defaultPowerW() / 1000
		}
		return m.SetOverride(c.Mode, duration, powerKW)
	case *domain.SetOverrideDurationCommand:
		return m.SetOverrideDuration(c.Duration)
	case *domain.SetOverridePowerCommand:
		return m.SetOverridePowerW(c.PowerW)
	case *domain.ClearOverrideCommand:
		return m.ClearOverride(), nil
	}
	return m.Override(), fmt.Errorf("unsupported override command %T", cmd)
}

// defaultPowerW is the last grid charge power or the configured maximum.
func (m *ModeController) defaultPowerW() float64 {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	if m.Store.override.TargetGridChargePowerW > 0 {
		return m.Store.override.TargetGridChargePowerW
	}
	return m.MaxGridChargeRateW
}

func (m *ModeController) clampPower(powerW float64) float64 {
	return math.Min(m.MaxGridChargeRateW, math.Max(0, math.Round(powerW)))
}
