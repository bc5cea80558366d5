package inverter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/adapter/evcc"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"

	"go.uber.org/zap"
)

const BACKEND_EVCC = "evcc"

// EVCCBackend hands battery control to EVCC's external battery mode.
// EVCC applies its own power limits, the dynamic charge ceiling is not forwarded.
type EVCCBackend struct {
	mu       sync.Mutex
	client   *evcc.Client
	lastMode evcc.BatteryMode
	logger   *zap.Logger
}

func NewEVCCBackend(client *evcc.Client, logger *zap.Logger) *EVCCBackend {
	return &EVCCBackend{
		client: client,
		logger: logger.Named(BACKEND_EVCC),
	}
}

func (b *EVCCBackend) Name() string {
	return BACKEND_EVCC
}

func batteryModeFor(mode domain.InverterMode) (evcc.BatteryMode, error) {
	switch mode {
	case domain.InverterModeChargeFromGrid:
		return evcc.BatteryModeCharge, nil
	case domain.InverterModeAvoidDischarge:
		return evcc.BatteryModeHold, nil
	case domain.InverterModeDischargeAllowed:
		return evcc.BatteryModeNormal, nil
	}
	return "", fmt.Errorf("unsupported inverter mode %s", mode)
}

func (b *EVCCBackend) Apply(ctx context.Context, d domain.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mode, err := batteryModeFor(d.Target.Mode)
	if err != nil {
		return &domain.BackendRejectedError{Backend: BACKEND_EVCC, Reason: err.Error()}
	}
	if mode == b.lastMode {
		b.logger.Debug("evcc@apply: battery mode unchanged, skipping", zap.String("mode", string(mode)))
		return nil
	}

	b.logger.Info("evcc@apply: setting battery mode", zap.String("mode", string(mode)))
	status, err := b.client.SetBatteryMode(ctx, mode)
	if err != nil {
		b.lastMode = ""
		return &domain.BackendTransportError{Backend: BACKEND_EVCC, Err: err}
	}
	switch {
	case status >= 200 && status < 300:
		b.lastMode = mode
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		b.lastMode = ""
		return &domain.BackendAuthError{Backend: BACKEND_EVCC, Err: fmt.Errorf("status %d", status)}
	case status >= 500:
		b.lastMode = ""
		return &domain.BackendTransportError{Backend: BACKEND_EVCC, Err: fmt.Errorf("status %d", status)}
	}
	b.lastMode = ""
	return &domain.BackendRejectedError{Backend: BACKEND_EVCC, Reason: fmt.Sprintf("status %d", status)}
}

// Close returns the battery to EVCC's normal mode.
func (b *EVCCBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastMode == "" || b.lastMode == evcc.BatteryModeNormal {
		return nil
	}
	if _, err := b.client.SetBatteryMode(ctx, evcc.BatteryModeNormal); err != nil {
		return &domain.BackendTransportError{Backend: BACKEND_EVCC, Err: err}
	}
	b.lastMode = evcc.BatteryModeNormal
	return nil
}

func (b *EVCCBackend) Status(ctx context.Context) (*domain.DeviceTelemetry, error) {
	state, err := b.client.State(ctx)
	if err != nil && !errors.Is(err, evcc.ErrNoLoadpoint) {
		return nil, &domain.BackendTransportError{Backend: BACKEND_EVCC, Err: err}
	}
	telemetry := &domain.DeviceTelemetry{
		Backend:    BACKEND_EVCC,
		SOCPercent: state.BatterySOC,
		ReadAt:     time.Now(),
	}
	if err == nil {
		charging := state.Charging
		telemetry.ExternalChargingActive = &charging
	}
	return telemetry, nil
}

// ensure interface compliance
var _ port.CommandBackend = (*EVCCBackend)(nil)
var _ port.TelemetryProvider = (*EVCCBackend)(nil)
