package inverter

import (
	"fmt"

	"github.com/berfenger/eosconnect/internal/adapter/evcc"
	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"go.uber.org/zap"
)

// Dependencies are clients shared with other components.
type Dependencies struct {
	EVCC    *evcc.Client
	Storage sunspec.StorageModbusClient
}

func NewBackend(cfg config.Config, deps Dependencies, logger *zap.Logger) (port.CommandBackend, error) {
	switch cfg.Inverter.Type {
	case config.InverterTypeNone:
		return NewNoopBackend(logger), nil
	case config.InverterTypeFroniusLegacy:
		return NewFroniusLegacyBackend(cfg.Inverter, logger), nil
	case config.InverterTypeFroniusAdaptive:
		return NewFroniusAdaptiveBackend(cfg.Inverter, logger), nil
	case config.InverterTypeEVCC:
		if deps.EVCC == nil {
			return nil, &domain.ConfigError{Key: "evcc.url", Reason: "is required for inverter type evcc"}
		}
		return NewEVCCBackend(deps.EVCC, logger), nil
	case config.InverterTypeSunSpecModbus:
		if deps.Storage == nil {
			return nil, &domain.ConfigError{Key: "inverter.modbus.host", Reason: "is required for sunspec_modbus"}
		}
		return NewSunSpecBackend(deps.Storage, cfg.RefreshInterval(), logger), nil
	}
	return nil, &domain.ConfigError{Key: "inverter.type", Reason: fmt.Sprintf("unknown type %q", cfg.Inverter.Type)}
}
