package inverter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"go.uber.org/zap"
)

const BACKEND_SUNSPEC_MODBUS = "sunspec_modbus"

// SunSpecBackend drives the basic storage control model over Modbus/TCP.
// Every control carries a revert timeout so the device falls back on its own when cycles stop.
type SunSpecBackend struct {
	mu        sync.Mutex
	client    sunspec.StorageModbusClient
	revert    time.Duration
	now       func() time.Time
	last      *sunspec.StorageControlParams
	lastAt    time.Time
	validated bool
	logger    *zap.Logger
}

// NewSunSpecBackend sets a revert timeout of twice the refresh interval.
func NewSunSpecBackend(client sunspec.StorageModbusClient, refreshInterval time.Duration, logger *zap.Logger) *SunSpecBackend {
	return &SunSpecBackend{
		client: client,
		revert: 2 * refreshInterval,
		now:    time.Now,
		logger: logger.Named(BACKEND_SUNSPEC_MODBUS),
	}
}

func (b *SunSpecBackend) Name() string {
	return BACKEND_SUNSPEC_MODBUS
}

func (b *SunSpecBackend) controlFor(d domain.Dispatch) sunspec.StorageControlParams {
	target := d.Target
	dyn := d.MaxChargePowerDynW
	params := sunspec.UncontrolledStorage()
	params.RevertTimeSeconds = uint32(b.revert.Seconds())
	switch target.Mode {
	case domain.InverterModeChargeFromGrid:
		params.MinChargePowerWatt = watts(min(target.ACChargeDemandW, dyn))
	case domain.InverterModeAvoidDischarge:
		params.MaxDischargePowerWatt = 0
		params.MaxChargePowerWatt = watts(min(target.DCChargeDemandW, dyn))
	case domain.InverterModeDischargeAllowed:
		params.MaxChargePowerWatt = watts(min(target.DCChargeDemandW, dyn))
	}
	return params
}

func watts(w float64) int32 {
	return int32(math.Round(math.Max(0, w)))
}

func (b *SunSpecBackend) Apply(ctx context.Context, d domain.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.validated {
		if err := b.client.Validate(); err != nil {
			return &domain.BackendTransportError{Backend: BACKEND_SUNSPEC_MODBUS, Err: err}
		}
		b.validated = true
	}

	params := b.controlFor(d)
	// unchanged controls are refreshed only when half the revert window has passed
	if b.last != nil && *b.last == params && b.now().Sub(b.lastAt) < b.revert/2 {
		b.logger.Debug("sunspec@apply: control unchanged, skipping write")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.logger.Info("sunspec@apply: writing storage control", zap.Stringer("mode", d.Target.Mode), zap.Any("params", params))
	if err := b.client.SetStorageControl(params); err != nil {
		b.last = nil
		return &domain.BackendTransportError{Backend: BACKEND_SUNSPEC_MODBUS, Err: err}
	}
	b.last = &params
	b.lastAt = b.now()
	return nil
}

// Close hands control back to the inverter.
func (b *SunSpecBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.last != nil {
		if err = b.client.DisableStorageControl(); err != nil {
			b.logger.Error("sunspec@close: could not disable storage control", zap.Error(err))
		}
		b.last = nil
	}
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *SunSpecBackend) Status(ctx context.Context) (*domain.DeviceTelemetry, error) {
	state, err := b.client.GetStorageState()
	if err != nil {
		return nil, &domain.BackendTransportError{Backend: BACKEND_SUNSPEC_MODBUS, Err: err}
	}
	soc := state.StateOfCharge
	return &domain.DeviceTelemetry{
		Backend:      BACKEND_SUNSPEC_MODBUS,
		SOCPercent:   &soc,
		StorageState: state.ChargeStatusStr,
		ReadAt:       time.Now(),
	}, nil
}

// ensure interface compliance
var _ port.CommandBackend = (*SunSpecBackend)(nil)
var _ port.TelemetryProvider = (*SunSpecBackend)(nil)
