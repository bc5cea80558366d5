package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ENV_PREFIX = "eosconnect"

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8081)
	v.SetDefault("http_log", false)
	v.SetDefault("refresh_time", 3)
	v.SetDefault("time_zone", "Europe/Berlin")
	v.SetDefault("shutdown_timeout", 10)
	v.SetDefault("eos.server", "")
	v.SetDefault("eos.port", 8503)
	v.SetDefault("eos.timeout", 180)
	v.SetDefault("eos.max_response_age", 12)
	v.SetDefault("load.source", "default")
	v.SetDefault("pv.source", "default")
	v.SetDefault("pv.temperature_c", 15)
	v.SetDefault("price.source", "default")
	v.SetDefault("price.default_ct_kwh", 10)
	v.SetDefault("price.feed_in_price_ct_kwh", 0)
	v.SetDefault("price.negative_price_switch", false)
	v.SetDefault("battery.source", "default")
	v.SetDefault("battery.url", "")
	v.SetDefault("battery.soc_sensor", "")
	v.SetDefault("battery.access_token", "")
	v.SetDefault("battery.default_soc", 5)
	v.SetDefault("battery.capacity_wh", 11059)
	v.SetDefault("battery.charge_efficiency", 0.88)
	v.SetDefault("battery.discharge_efficiency", 0.88)
	v.SetDefault("battery.max_charge_power_w", 5000)
	v.SetDefault("battery.min_soc_percentage", 5)
	v.SetDefault("battery.max_soc_percentage", 100)
	v.SetDefault("battery.price_euro_per_wh_accu", 0)
	v.SetDefault("battery.charging_curve.enabled", true)
	v.SetDefault("battery.charging_curve.full_power_soc", 50)
	v.SetDefault("battery.charging_curve.floor_w", 500)
	v.SetDefault("inverter.type", "none")
	v.SetDefault("inverter.address", "")
	v.SetDefault("inverter.user", "customer")
	v.SetDefault("inverter.password", "")
	v.SetDefault("inverter.max_grid_charge_rate", 5000)
	v.SetDefault("inverter.max_pv_charge_rate", 5000)
	v.SetDefault("inverter.max_bat_discharge_rate", 5000)
	v.SetDefault("inverter.max_power_wh", 8500)
	v.SetDefault("inverter.request_timeout_millis", 10000)
	v.SetDefault("inverter.modbus.host", "")
	v.SetDefault("inverter.modbus.port", 502)
	v.SetDefault("inverter.modbus.unit_id", 1)
	v.SetDefault("inverter.modbus.timeout_millis", 1000)
	v.SetDefault("inverter.modbus.ignore_fronius", false)
	v.SetDefault("evcc.url", "")
	v.SetDefault("evcc.poll_interval_seconds", 10)
	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "eosconnect")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

// Load reads defaults, environment and the optional CONFIG_FILE yaml into a validated Config.
func Load(v *viper.Viper) (*Config, error) {

	// alias PORT => EOSCONNECT_PORT
	if port := os.Getenv("PORT"); port != "" && os.Getenv("EOSCONNECT_PORT") == "" {
		os.Setenv("EOSCONNECT_PORT", port)
	}

	SetDefaults(v)

	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			if err := v.ReadInConfig(); err != nil {
				return nil, &domain.ConfigError{Key: "CONFIG_FILE", Reason: err.Error()}
			}
		}
	}

	return Decode(v)
}

// Decode unmarshals an already populated viper instance and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigError{Reason: err.Error()}
	}

	cfg.LogLevel = parseLogLevel(v.GetString("log_level"))

	inverterType, err := ParseInverterType(v.GetString("inverter.type"))
	if err != nil {
		return nil, &domain.ConfigError{Key: "inverter.type", Reason: err.Error()}
	}
	cfg.Inverter.Type = inverterType

	if len(cfg.PV.Installations) == 0 {
		cfg.PV.Installations = []PVInstallation{{Name: "default", MaxPowerW: 5000}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks bounds and normalizes topics. It resolves Location.
func (cfg *Config) Validate() error {

	if strings.TrimSpace(cfg.EOS.Server) == "" {
		return &domain.ConfigError{Key: "eos.server", Reason: "is required"}
	}
	if cfg.RefreshTime < 1 {
		return &domain.ConfigError{Key: "refresh_time", Reason: "should be >= 1 minute"}
	}
	if cfg.EOS.Timeout < 1 {
		return &domain.ConfigError{Key: "eos.timeout", Reason: "should be >= 1 second"}
	}
	if cfg.EOS.Timeout > cfg.RefreshTime*60 {
		return &domain.ConfigError{Key: "eos.timeout",
			Reason: fmt.Sprintf("%ds exceeds refresh_time of %d minutes", cfg.EOS.Timeout, cfg.RefreshTime)}
	}
	if cfg.EOS.MaxResponseAge < 1 {
		return &domain.ConfigError{Key: "eos.max_response_age", Reason: "should be >= 1 hour"}
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return &domain.ConfigError{Key: "time_zone", Reason: err.Error()}
	}
	cfg.Location = loc

	// battery
	b := cfg.Battery
	if b.CapacityWh <= 0 {
		return &domain.ConfigError{Key: "battery.capacity_wh", Reason: "should be > 0"}
	}
	if b.ChargeEfficiency <= 0 || b.ChargeEfficiency > 1 {
		return &domain.ConfigError{Key: "battery.charge_efficiency", Reason: "should be in (0, 1]"}
	}
	if b.DischargeEfficiency <= 0 || b.DischargeEfficiency > 1 {
		return &domain.ConfigError{Key: "battery.discharge_efficiency", Reason: "should be in (0, 1]"}
	}
	if b.MinSOCPercent < 0 || b.MaxSOCPercent > 100 || b.MinSOCPercent >= b.MaxSOCPercent {
		return &domain.ConfigError{Key: "battery.min_soc_percentage",
			Reason: "should satisfy 0 <= min_soc_percentage < max_soc_percentage <= 100"}
	}
	if b.MaxChargePowerW <= 0 {
		return &domain.ConfigError{Key: "battery.max_charge_power_w", Reason: "should be > 0"}
	}
	if b.ChargingCurve.FullPowerSOC < 0 || b.ChargingCurve.FullPowerSOC >= 100 {
		return &domain.ConfigError{Key: "battery.charging_curve.full_power_soc", Reason: "should be in [0, 100)"}
	}
	switch b.Source {
	case "default", "sunspec":
	case "homeassistant", "openhab":
		if b.URL == "" || b.SOCSensor == "" {
			return &domain.ConfigError{Key: "battery.url",
				Reason: fmt.Sprintf("source %s needs url and soc_sensor", b.Source)}
		}
	default:
		return &domain.ConfigError{Key: "battery.source", Reason: fmt.Sprintf("unknown source %q", b.Source)}
	}
	if b.Source == "sunspec" && cfg.Inverter.Modbus.Host == "" {
		return &domain.ConfigError{Key: "inverter.modbus.host", Reason: "battery source sunspec needs a modbus host"}
	}

	// forecasts
	if cfg.Load.Source != "default" {
		return &domain.ConfigError{Key: "load.source", Reason: fmt.Sprintf("unknown source %q", cfg.Load.Source)}
	}
	if cfg.PV.Source != "default" {
		return &domain.ConfigError{Key: "pv.source", Reason: fmt.Sprintf("unknown source %q", cfg.PV.Source)}
	}
	for i, inst := range cfg.PV.Installations {
		if inst.MaxPowerW < 0 {
			return &domain.ConfigError{Key: fmt.Sprintf("pv.installations[%d].max_power_w", i), Reason: "should be >= 0"}
		}
	}
	switch cfg.Price.Source {
	case "default", "fixed_24h":
	default:
		return &domain.ConfigError{Key: "price.source", Reason: fmt.Sprintf("unknown source %q", cfg.Price.Source)}
	}

	// inverter
	inv := cfg.Inverter
	if inv.MaxGridChargeRate < 0 || inv.MaxPVChargeRate < 0 || inv.MaxBatDischargeRate < 0 {
		return &domain.ConfigError{Key: "inverter", Reason: "rates should be >= 0"}
	}
	switch inv.Type {
	case InverterTypeNone:
	case InverterTypeFroniusLegacy, InverterTypeFroniusAdaptive:
		if inv.Address == "" {
			return &domain.ConfigError{Key: "inverter.address", Reason: fmt.Sprintf("is required for %s", inv.Type)}
		}
	case InverterTypeEVCC:
		if cfg.EVCC.URL == "" {
			return &domain.ConfigError{Key: "evcc.url", Reason: "is required for inverter type evcc"}
		}
	case InverterTypeSunSpecModbus:
		if inv.Modbus.Host == "" {
			return &domain.ConfigError{Key: "inverter.modbus.host", Reason: "is required for sunspec_modbus"}
		}
	default:
		return &domain.ConfigError{Key: "inverter.type", Reason: fmt.Sprintf("unknown type %q", inv.Type)}
	}
	if cfg.EVCC.URL != "" && cfg.EVCC.PollIntervalSeconds < 1 {
		return &domain.ConfigError{Key: "evcc.poll_interval_seconds", Reason: "should be >= 1"}
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return &domain.ConfigError{Key: "mqtt.base_topic", Reason: err.Error()}
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return &domain.ConfigError{Key: "mqtt.ha_discovery_topic", Reason: err.Error()}
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	return nil
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "fatal":
		return zap.FatalLevel
	}
	return zap.InfoLevel
}
