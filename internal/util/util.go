package util

import (
	"time"

	"github.com/berfenger/eosconnect/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
	return config.Config{
		LogLevel:        zap.DebugLevel,
		Location:        loc,
		TimeZone:        "Europe/Berlin",
		RefreshTime:     3,
		ShutdownTimeout: 10,
		EOS: config.EOSConfig{
			Server:         "localhost",
			Port:           8503,
			Timeout:        180,
			MaxResponseAge: 12,
		},
		Load: config.LoadConfig{Source: "default"},
		PV: config.PVConfig{
			Source:        "default",
			Installations: []config.PVInstallation{{Name: "roof", MaxPowerW: 5000}},
			TemperatureC:  15,
		},
		Price: config.PriceConfig{
			Source:       "default",
			DefaultCtKWh: 10,
		},
		Battery: config.BatteryConfig{
			Source:              "default",
			DefaultSOC:          5,
			CapacityWh:          11059,
			ChargeEfficiency:    0.88,
			DischargeEfficiency: 0.88,
			MaxChargePowerW:     5000,
			MinSOCPercent:       5,
			MaxSOCPercent:       100,
			ChargingCurve: config.ChargingCurveConfig{
				Enabled:      true,
				FullPowerSOC: 50,
				FloorW:       500,
			},
		},
		Inverter: config.InverterConfig{
			Type:                 config.InverterTypeNone,
			User:                 "customer",
			MaxGridChargeRate:    5000,
			MaxPVChargeRate:      5000,
			MaxBatDischargeRate:  5000,
			MaxPowerWh:           8500,
			RequestTimeoutMillis: 2000,
		},
		MQTT: config.MQTTConfig{
			Enable:           true,
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "eosconnect",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8081,
	}
}
