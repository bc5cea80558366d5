package source

import (
	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"go.uber.org/zap"
)

type Sources struct {
	Load  port.LoadSource
	PV    port.PVSource
	Price port.PriceSource
	SOC   port.SOCSource
}

// NewSources builds the collaborator inputs selected in the configuration.
// storage is only required for the sunspec battery source.
func NewSources(cfg config.Config, storage sunspec.StorageModbusClient, logger *zap.Logger) (Sources, error) {
	logger = logger.Named("source")

	if cfg.Price.Source == "fixed_24h" && len(cfg.Price.Fixed24hArray) != 24 {
		logger.Warn("source@init: price.fixed_24h_array needs 24 entries, using the default price",
			zap.Int("entries", len(cfg.Price.Fixed24hArray)))
	}

	sources := Sources{
		Load:  DefaultLoad{},
		PV:    DefaultPV{Installations: cfg.PV.Installations, TemperatureC: cfg.PV.TemperatureC},
		Price: NewStaticPrice(cfg.Price),
	}

	battery := cfg.Battery
	switch battery.Source {
	case "default":
		sources.SOC = FixedSOC(battery.DefaultSOC)
	case "homeassistant":
		sources.SOC = NewHomeAssistantSOC(battery.URL, battery.SOCSensor, battery.AccessToken, logger)
	case "openhab":
		sources.SOC = NewOpenHABSOC(battery.URL, battery.SOCSensor, logger)
	case "sunspec":
		if storage == nil {
			return Sources{}, &domain.ConfigError{Key: "inverter.modbus.host", Reason: "battery source sunspec needs a modbus host"}
		}
		sources.SOC = SunSpecSOC{Client: storage}
	default:
		return Sources{}, &domain.ConfigError{Key: "battery.source", Reason: "unknown source " + battery.Source}
	}

	logger.Info("source@init: forecast sources ready", zap.String("load", cfg.Load.Source),
		zap.String("pv", cfg.PV.Source), zap.String("price", cfg.Price.Source), zap.String("soc", battery.Source))
	return sources, nil
}
