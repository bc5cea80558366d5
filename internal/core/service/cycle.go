package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"go.uber.org/zap"
)

const DEFAULT_SOLVER_TIMEOUT = 180 * time.Second

// ErrCycleAbandoned is returned when the cycle context ended before dispatch.
var ErrCycleAbandoned = errors.New("cycle abandoned before dispatch")

type BatteryLimits struct {
	CapacityWh          float64
	DischargeEfficiency float64
	MinSOCPercent       float64
	MaxChargePowerW     float64
	CurveEnabled        bool
}

// CycleRunner executes one control cycle: collect, build, solve, interpret,
// resolve, dispatch.
type CycleRunner struct {
	Store         *Store
	Collector     *Collector
	Builder       *RequestBuilder
	Optimizer     port.Optimizer
	Interpreter   *Interpreter
	Controller    *ModeController
	Curve         *ChargingCurve
	Backend       port.CommandBackend
	Metrics       port.MetricsRecorder
	Battery       BatteryLimits
	SolverTimeout time.Duration
	Now           func() time.Time
	Logger        *zap.Logger

	dispatchMu sync.Mutex
}

func (r *CycleRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *CycleRunner) solverTimeout() time.Duration {
	if r.SolverTimeout > 0 {
		return r.SolverTimeout
	}
	return DEFAULT_SOLVER_TIMEOUT
}

// RunCycle runs one full cycle. The cycle pointer is updated whatever the outcome.
func (r *CycleRunner) RunCycle(ctx context.Context) (err error) {
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			r.Logger.Error("cycle@panic: recovered from panic", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("cycle panic: %v", p)
		}
		r.finish(start, err)
	}()

	r.Logger.Debug("cycle@start: starting optimization cycle")

	inputs, collectErr := r.Collector.Collect(ctx, start)
	if collectErr != nil {
		r.Logger.Warn("cycle@collect: some forecasts unavailable", zap.Error(collectErr))
	}

	battery := r.batteryState(inputs.SOCPercent)
	r.Store.mu.Lock()
	r.Store.battery = battery
	startSolution := []float64(nil)
	if r.Store.lastResponse != nil {
		startSolution = r.Store.lastResponse.StartSolution
	}
	r.Store.mu.Unlock()

	resp, variant, solveErr := r.solve(ctx, inputs, startSolution, start)

	now := r.now()
	r.Store.mu.Lock()
	if variant != domain.SchemaUnknown {
		r.Store.schema = variant
	}
	if solveErr != nil {
		live := r.Store.override.LiveAt(now)
		// an override that ran out hands control back to the last valid
		// response, or to the safe default
		expired := r.Store.override.Active && !live
		if expired {
			r.Store.auto = r.Interpreter.Decide(r.Store.lastResponse, r.Store.previousResponse, now)
			r.Store.hasAuto = true
		}
		var target domain.EffectiveTarget
		if live || expired {
			target = r.Controller.resolveLocked(now)
		}
		r.Store.mu.Unlock()
		r.Logger.Error("cycle@solve: optimization failed, keeping previous response",
			zap.String("kind", domain.ErrorKind(solveErr)), zap.Error(solveErr))
		if !live && !expired {
			return solveErr
		}
		if dispatchErr := r.dispatch(ctx, target, battery.MaxChargePowerDynW); dispatchErr != nil {
			return errors.Join(solveErr, dispatchErr)
		}
		return solveErr
	}
	if r.Store.lastResponse != nil {
		r.Store.previousResponse = r.Store.lastResponse
	}
	resp.DayStart = DayStart(start, r.Builder.location())
	r.Store.lastResponse = resp
	auto := r.Interpreter.Decide(resp, r.Store.previousResponse, now)
	r.Store.auto = auto
	r.Store.hasAuto = true
	target := r.Controller.resolveLocked(now)
	r.Store.mu.Unlock()

	return r.dispatch(ctx, target, battery.MaxChargePowerDynW)
}

func (r *CycleRunner) solve(ctx context.Context, inputs domain.ForecastInputs, startSolution []float64,
	now time.Time) (*domain.OptimizationResponse, domain.SchemaVariant, error) {

	variant, err := r.Optimizer.Variant(ctx)
	if err != nil {
		return nil, domain.SchemaUnknown, err
	}
	request := r.Builder.Build(variant, inputs, startSolution, now)

	r.Store.mu.Lock()
	r.Store.lastRequest = &request
	r.Store.mu.Unlock()

	solveStart := time.Now()
	resp, err := r.Optimizer.Submit(ctx, request, r.solverTimeout())
	if r.Metrics != nil {
		r.Metrics.ObserveSolver(solverOutcome(err), time.Since(solveStart))
	}
	if err != nil {
		return nil, variant, err
	}
	r.Logger.Info("cycle@solve: optimization response received",
		zap.Int("slots", resp.Slots()), zap.Duration("took", time.Since(solveStart)))
	return resp, variant, nil
}

// Redispatch applies the current effective target without a solver call.
// Used after override commands so the device reacts immediately.
func (r *CycleRunner) Redispatch(ctx context.Context) error {
	now := r.now()
	r.Store.mu.Lock()
	if !r.Store.override.LiveAt(now) && (r.Store.lastResponse != nil || r.Store.previousResponse != nil) {
		r.Store.auto = r.Interpreter.Decide(r.Store.lastResponse, r.Store.previousResponse, now)
		r.Store.hasAuto = true
	}
	target := r.Controller.resolveLocked(now)
	dyn := r.Store.battery.MaxChargePowerDynW
	if dyn <= 0 {
		dyn = r.Battery.MaxChargePowerW
	}
	r.Store.mu.Unlock()
	return r.dispatch(ctx, target, dyn)
}

func (r *CycleRunner) dispatch(ctx context.Context, target domain.EffectiveTarget, maxChargePowerDynW float64) error {
	if err := ctx.Err(); err != nil {
		r.Logger.Warn("cycle@dispatch: context done, not dispatching", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrCycleAbandoned, err)
	}
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	if r.Metrics != nil {
		r.Metrics.SetTarget(target, maxChargePowerDynW)
	}
	err := r.Backend.Apply(ctx, domain.Dispatch{Target: target, MaxChargePowerDynW: maxChargePowerDynW})
	if r.Metrics != nil {
		r.Metrics.ObserveDispatch(r.Backend.Name(), err)
	}
	if err != nil {
		r.Logger.Error("cycle@dispatch: backend failed, retrying next cycle",
			zap.String("backend", r.Backend.Name()), zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		return err
	}
	r.Logger.Info("cycle@dispatch: target applied",
		zap.String("backend", r.Backend.Name()),
		zap.Stringer("mode", target.Mode),
		zap.String("origin", string(target.Origin)),
		zap.Float64("ac_charge_demand_w", target.ACChargeDemandW),
		zap.Float64("dc_charge_demand_w", target.DCChargeDemandW),
		zap.Float64("max_charge_power_dyn_w", maxChargePowerDynW))
	return nil
}

func (r *CycleRunner) finish(start time.Time, err error) {
	state := domain.CycleStateOK
	lastError := ""
	if err != nil {
		state = domain.CycleStateError
		lastError = err.Error()
	}
	r.Store.mu.Lock()
	r.Store.cycle.LastRun = start
	r.Store.cycle.State = state
	r.Store.cycle.LastError = lastError
	r.Store.mu.Unlock()
	if r.Metrics != nil {
		r.Metrics.ObserveCycle(state, r.now().Sub(start))
	}
}

func (r *CycleRunner) batteryState(soc float64) domain.BatteryState {
	usable := r.Battery.CapacityWh * r.Battery.DischargeEfficiency * (soc - r.Battery.MinSOCPercent) / 100
	return domain.BatteryState{
		SOCPercent:         soc,
		CapacityWh:         r.Battery.CapacityWh,
		UsableEnergyWh:     math.Max(0, math.Round(usable*100)/100),
		MaxChargePowerDynW: r.Curve.MaxChargePower(soc, r.Battery.MaxChargePowerW, r.Battery.CurveEnabled),
	}
}

func solverOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.ErrorKind(err)
}
