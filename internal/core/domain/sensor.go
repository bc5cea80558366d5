package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE                 = "bridge"
	SENSOR_ID_BATTERY_SOC                  = "battery_soc"
	SENSOR_ID_BATTERY_USABLE_ENERGY        = "battery_usable_energy"
	SENSOR_ID_BATTERY_MAX_CHARGE_POWER_DYN = "battery_max_charge_power_dyn"
	SENSOR_ID_AC_CHARGE_DEMAND             = "ac_charge_demand"
	SENSOR_ID_DC_CHARGE_DEMAND             = "dc_charge_demand"
	SENSOR_ID_DISCHARGE_ALLOWED            = "discharge_allowed"
	SENSOR_ID_INVERTER_MODE                = "inverter_mode"
	SENSOR_ID_TARGET_ORIGIN                = "target_origin"
	SENSOR_ID_OVERRIDE_ACTIVE              = "override_active"
	SENSOR_ID_OVERRIDE_END                 = "override_end"
	SENSOR_ID_CYCLE_STATE                  = "cycle_state"
	SENSOR_ID_CYCLE_LAST_RUN               = "cycle_last_run"
	SENSOR_ID_CYCLE_NEXT_RUN               = "cycle_next_run"
	SENSOR_ID_SOLVER_SCHEMA                = "solver_schema"
	SENSOR_ID_EVCC_CHARGING                = "evcc_charging"
	SENSOR_ID_DEVICE_TEMPERATURE           = "device_temperature"
	SELECT_ID_OVERRIDE_MODE                = "override_mode"
	INPUT_NUMBER_ID_OVERRIDE_DURATION      = "override_duration"
	INPUT_NUMBER_ID_OVERRIDE_POWER         = "override_power"
	BUTTON_ID_OVERRIDE_CLEAR               = "override_clear"
	STATE_CLASS_MEASUREMENT                = "measurement"
	DEVICE_CLASS_BATTERY                   = "battery"
	DEVICE_CLASS_ENERGY_STORAGE            = "energy_storage"
	DEVICE_CLASS_POWER                     = "power"
	DEVICE_CLASS_TEMPERATURE               = "temperature"
	DEVICE_CLASS_TIMESTAMP                 = "timestamp"
	DEVICE_CLASS_CONNECTIVITY              = "connectivity"
	DEVICE_CLASS_BATTERY_CHARGING          = "battery_charging"
	ENTITY_CLASS_DIAGNOSTIC                = "diagnostic"
	ENTITY_CLASS_CONFIG                    = "config"
	SENSOR_TYPE_SENSOR                     = "sensor"
	SENSOR_TYPE_BINARY                     = "binary_sensor"
	INPUT_NUMBER_MODE_BOX                  = "box"
	INPUT_NUMBER_MODE_SLIDER               = "slider"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("eosconnect_%s", md5HashShort(baseTopic)),
		Manufacturer: "EOS connect",
		Model:        "EOS connect",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("EOS connect %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func ControlSensors(device Device) []GenericSensor {

	var sensors []GenericSensor

	power := func(id, name string) GenericSensor {
		return GenericSensor{
			Device:            device,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(device.Id, id),
		}
	}
	text := func(id, name, icon string) GenericSensor {
		return GenericSensor{
			Device:     device,
			Id:         id,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       name,
			Icon:       icon,
			UniqueId:   uniqueId(device.Id, id),
		}
	}
	timestamp := func(id, name string) GenericSensor {
		return GenericSensor{
			Device:         device,
			Id:             id,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           name,
			DeviceClass:    DEVICE_CLASS_TIMESTAMP,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(device.Id, id),
		}
	}
	binary := func(id, name, deviceClass string) GenericSensor {
		return GenericSensor{
			Device:      device,
			Id:          id,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        name,
			DeviceClass: deviceClass,
			UniqueId:    uniqueId(device.Id, id),
		}
	}

	// Battery
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_BATTERY_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_SOC),
	})
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_BATTERY_USABLE_ENERGY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery usable energy",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_ENERGY_STORAGE,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_USABLE_ENERGY),
	})
	sensors = append(sensors, power(SENSOR_ID_BATTERY_MAX_CHARGE_POWER_DYN, "Battery dynamic max charge power"))

	// Effective target
	sensors = append(sensors, power(SENSOR_ID_AC_CHARGE_DEMAND, "AC charge demand"))
	sensors = append(sensors, power(SENSOR_ID_DC_CHARGE_DEMAND, "DC charge demand"))
	sensors = append(sensors, binary(SENSOR_ID_DISCHARGE_ALLOWED, "Discharge allowed", ""))
	sensors = append(sensors, text(SENSOR_ID_INVERTER_MODE, "Inverter mode", "mdi:home-battery"))
	sensors = append(sensors, text(SENSOR_ID_TARGET_ORIGIN, "Target origin", "mdi:source-branch"))

	// Override
	sensors = append(sensors, binary(SENSOR_ID_OVERRIDE_ACTIVE, "Override active", ""))
	sensors = append(sensors, timestamp(SENSOR_ID_OVERRIDE_END, "Override end"))

	// Cycle
	cycleState := text(SENSOR_ID_CYCLE_STATE, "Optimization state", "mdi:state-machine")
	cycleState.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
	sensors = append(sensors, cycleState)
	sensors = append(sensors, timestamp(SENSOR_ID_CYCLE_LAST_RUN, "Last optimization"))
	sensors = append(sensors, timestamp(SENSOR_ID_CYCLE_NEXT_RUN, "Next optimization"))
	schema := text(SENSOR_ID_SOLVER_SCHEMA, "Solver API", "mdi:api")
	schema.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
	schema.EnabledByDefault = optionalBool(false)
	sensors = append(sensors, schema)

	// Devices
	sensors = append(sensors, binary(SENSOR_ID_EVCC_CHARGING, "EVCC charging", DEVICE_CLASS_BATTERY_CHARGING))
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_DEVICE_TEMPERATURE,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Inverter temperature",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		UnitOfMeasurement: "°C",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(device.Id, SENSOR_ID_DEVICE_TEMPERATURE),
	})

	return sensors
}

func OverrideSelects(device Device) []GenericSelect {

	var options []string
	for _, m := range OverrideModes() {
		options = append(options, m.String())
	}

	return []GenericSelect{{
		Device:   device,
		Id:       SELECT_ID_OVERRIDE_MODE,
		Name:     "Override mode",
		UniqueId: uniqueId(device.Id, SELECT_ID_OVERRIDE_MODE),
		Icon:     "mdi:hand-back-right",
		Options:  options,
	}}
}

func OverrideInputNumbers(device Device, maxGridChargeRateW float64) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	// Override duration, minutes
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            device,
		Id:                INPUT_NUMBER_ID_OVERRIDE_DURATION,
		Name:              "Override duration",
		UniqueId:          uniqueId(device.Id, INPUT_NUMBER_ID_OVERRIDE_DURATION),
		Icon:              "mdi:timer-outline",
		UnitOfMeasurement: "min",
		Max:               1439,
		Min:               15,
		Step:              15,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      60,
	})
	// Override grid charge power
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            device,
		Id:                INPUT_NUMBER_ID_OVERRIDE_POWER,
		Name:              "Override grid charge power",
		UniqueId:          uniqueId(device.Id, INPUT_NUMBER_ID_OVERRIDE_POWER),
		Icon:              "mdi:transmission-tower-import",
		UnitOfMeasurement: "W",
		Max:               maxGridChargeRateW,
		Min:               0,
		Step:              100,
		Mode:              INPUT_NUMBER_MODE_SLIDER,
		InitialValue:      maxGridChargeRateW,
	})

	return inputNumbers
}

func OverrideButtons(device Device) []GenericButton {
	return []GenericButton{{
		Device:   device,
		Id:       BUTTON_ID_OVERRIDE_CLEAR,
		Name:     "Clear override",
		UniqueId: uniqueId(device.Id, BUTTON_ID_OVERRIDE_CLEAR),
		Icon:     "mdi:restore",
	}}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
