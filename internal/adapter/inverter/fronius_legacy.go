package inverter

import (
	"context"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"

	"go.uber.org/zap"
)

const BACKEND_FRONIUS_LEGACY = "fronius_legacy"

// FroniusLegacyBackend drives GEN24 firmware that serves the web API under /config/
// and only speaks MD5 digest.
type FroniusLegacyBackend struct {
	froniusBackend
}

func NewFroniusLegacyBackend(cfg config.InverterConfig, logger *zap.Logger) *FroniusLegacyBackend {
	logger = logger.Named(BACKEND_FRONIUS_LEGACY)
	return &FroniusLegacyBackend{
		froniusBackend: froniusBackend{
			session:            newFroniusSession(BACKEND_FRONIUS_LEGACY, cfg, true, logger),
			maxGridChargeRateW: cfg.MaxGridChargeRate,
			logger:             logger,
		},
	}
}

func (b *FroniusLegacyBackend) Name() string {
	return BACKEND_FRONIUS_LEGACY
}

func (b *FroniusLegacyBackend) Apply(ctx context.Context, d domain.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(ctx, d)
}

func (b *FroniusLegacyBackend) Close(ctx context.Context) error {
	return nil
}

func (b *FroniusLegacyBackend) Status(ctx context.Context) (*domain.DeviceTelemetry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	soc, err := b.session.storageSOC(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.DeviceTelemetry{
		Backend:    BACKEND_FRONIUS_LEGACY,
		SOCPercent: soc,
		ReadAt:     time.Now(),
	}, nil
}

// ensure interface compliance
var _ port.CommandBackend = (*FroniusLegacyBackend)(nil)
var _ port.TelemetryProvider = (*FroniusLegacyBackend)(nil)
