package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel        zapcore.Level
	Location        *time.Location `mapstructure:"-"`
	Port            uint           `mapstructure:"port"`
	HttpLog         bool           `mapstructure:"http_log"`
	RefreshTime     uint           `mapstructure:"refresh_time"`
	TimeZone        string         `mapstructure:"time_zone"`
	ShutdownTimeout uint           `mapstructure:"shutdown_timeout"`

	EOS      EOSConfig      `mapstructure:"eos"`
	Load     LoadConfig     `mapstructure:"load"`
	PV       PVConfig       `mapstructure:"pv"`
	Price    PriceConfig    `mapstructure:"price"`
	Battery  BatteryConfig  `mapstructure:"battery"`
	Inverter InverterConfig `mapstructure:"inverter"`
	EVCC     EVCCConfig     `mapstructure:"evcc"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type EOSConfig struct {
	Server string
	Port   uint
	// Timeout is the solver deadline in seconds
	Timeout uint
	// MaxResponseAge is the fallback staleness window in hours
	MaxResponseAge uint `mapstructure:"max_response_age"`
}

type LoadConfig struct {
	Source string
}

type PVInstallation struct {
	Name      string
	MaxPowerW float64 `mapstructure:"max_power_w"`
}

type PVConfig struct {
	Source        string
	Installations []PVInstallation
	TemperatureC  float64 `mapstructure:"temperature_c"`
}

type PriceConfig struct {
	Source              string
	DefaultCtKWh        float64   `mapstructure:"default_ct_kwh"`
	Fixed24hArray       []float64 `mapstructure:"fixed_24h_array"`
	FeedInPriceCtKWh    float64   `mapstructure:"feed_in_price_ct_kwh"`
	NegativePriceSwitch bool      `mapstructure:"negative_price_switch"`
}

type ChargingCurveConfig struct {
	Enabled      bool
	FullPowerSOC float64 `mapstructure:"full_power_soc"`
	FloorW       float64 `mapstructure:"floor_w"`
}

type BatteryConfig struct {
	Source              string
	URL                 string
	SOCSensor           string  `mapstructure:"soc_sensor"`
	AccessToken         string  `mapstructure:"access_token"`
	DefaultSOC          float64 `mapstructure:"default_soc"`
	CapacityWh          float64 `mapstructure:"capacity_wh"`
	ChargeEfficiency    float64 `mapstructure:"charge_efficiency"`
	DischargeEfficiency float64 `mapstructure:"discharge_efficiency"`
	MaxChargePowerW     float64 `mapstructure:"max_charge_power_w"`
	MinSOCPercent       float64 `mapstructure:"min_soc_percentage"`
	MaxSOCPercent       float64 `mapstructure:"max_soc_percentage"`
	PriceEuroPerWh      float64 `mapstructure:"price_euro_per_wh_accu"`

	ChargingCurve ChargingCurveConfig `mapstructure:"charging_curve"`
}

type ModbusConfig struct {
	Host          string
	Port          uint
	UnitId        uint `mapstructure:"unit_id"`
	TimeoutMillis uint `mapstructure:"timeout_millis"`
	IgnoreFronius bool `mapstructure:"ignore_fronius"`
}

type InverterConfig struct {
	Type                 InverterType
	Address              string
	User                 string
	Password             string
	MaxGridChargeRate    float64 `mapstructure:"max_grid_charge_rate"`
	MaxPVChargeRate      float64 `mapstructure:"max_pv_charge_rate"`
	MaxBatDischargeRate  float64 `mapstructure:"max_bat_discharge_rate"`
	MaxPowerWh           float64 `mapstructure:"max_power_wh"`
	RequestTimeoutMillis uint    `mapstructure:"request_timeout_millis"`

	Modbus ModbusConfig
}

type EVCCConfig struct {
	URL                 string
	PollIntervalSeconds uint `mapstructure:"poll_interval_seconds"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshTime) * time.Minute
}

func (c Config) ShutdownDeadline() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

func (c EOSConfig) BaseURL() string {
	server := strings.TrimSuffix(c.Server, "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return fmt.Sprintf("%s:%d", server, c.Port)
}

func (c EOSConfig) Deadline() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c EOSConfig) ResponseMaxAge() time.Duration {
	return time.Duration(c.MaxResponseAge) * time.Hour
}

func (c InverterConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c InverterConfig) BaseURL() string {
	address := strings.TrimSuffix(c.Address, "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return address
}

func (c ModbusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c EVCCConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	const redacted = "*redacted*"
	if c.MQTT.Username != "" {
		c.MQTT.Username = redacted
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = redacted
	}
	if c.Inverter.Password != "" {
		c.Inverter.Password = redacted
	}
	if c.Battery.AccessToken != "" {
		c.Battery.AccessToken = redacted
	}
	return c
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
