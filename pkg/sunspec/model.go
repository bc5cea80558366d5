package sunspec

import (
	"fmt"
)

// storage states
const (
	StorageChargeStatusOff         = 1
	StorageChargeStatusEmpty       = 2
	StorageChargeStatusDischarging = 3
	StorageChargeStatusCharging    = 4
	StorageChargeStatusFull        = 5
	StorageChargeStatusHolding     = 6
	StorageChargeStatusTest        = 7
)

// storage state strings
const (
	StorageChargeStatusOffStr         = "off"
	StorageChargeStatusEmptyStr       = "empty"
	StorageChargeStatusDischargingStr = "discharging"
	StorageChargeStatusChargingStr    = "charging"
	StorageChargeStatusFullStr        = "full"
	StorageChargeStatusHoldingStr     = "holding"
	StorageChargeStatusTestStr        = "test"
	StorageChargeStatusUnknownStr     = "unknown"
)

func StorageChargeStatusToString(storage uint16) string {
	switch storage {
	case StorageChargeStatusOff:
		return StorageChargeStatusOffStr
	case StorageChargeStatusEmpty:
		return StorageChargeStatusEmptyStr
	case StorageChargeStatusDischarging:
		return StorageChargeStatusDischargingStr
	case StorageChargeStatusCharging:
		return StorageChargeStatusChargingStr
	case StorageChargeStatusFull:
		return StorageChargeStatusFullStr
	case StorageChargeStatusHolding:
		return StorageChargeStatusHoldingStr
	case StorageChargeStatusTest:
		return StorageChargeStatusTestStr
	default:
		return fmt.Sprintf("%s(%d)", StorageChargeStatusUnknownStr, storage)
	}
}

type StorageInfo struct {
	Manufacturer       string
	Model              string
	Version            string
	MaxChargePowerWatt uint32
}

type StorageState struct {
	StateOfCharge       float64
	MaxCapacityWatt     uint32
	CurrentCapacityWatt uint32
	ChargeStatus        uint16
	ChargeStatusStr     string
}

// StorageControlParams bounds charge and discharge power. A negative value leaves that bound uncontrolled.
type StorageControlParams struct {
	MinChargePowerWatt    int32
	MaxChargePowerWatt    int32
	MinDischargePowerWatt int32
	MaxDischargePowerWatt int32
	RevertTimeSeconds     uint32
}

func UncontrolledStorage() StorageControlParams {
	return StorageControlParams{
		MinChargePowerWatt:    -1,
		MaxChargePowerWatt:    -1,
		MinDischargePowerWatt: -1,
		MaxDischargePowerWatt: -1,
	}
}

// StorageRates are the register level values of the SunSpec basic storage control model.
type StorageRates struct {
	OutWRtePercent   float64
	InWRtePercent    float64
	ControlDischarge bool
	ControlCharge    bool
}

// StorageRatesFor converts power bounds into rate percentages of the maximum charge power.
func StorageRatesFor(params StorageControlParams, capacityWatt float64) StorageRates {
	rates := StorageRates{OutWRtePercent: 100, InWRtePercent: 100}
	if capacityWatt <= 0 {
		return rates
	}
	if params.MinChargePowerWatt >= 0 {
		rates.OutWRtePercent = -(float64(params.MinChargePowerWatt) / capacityWatt) * 100
		rates.ControlDischarge = true
	}
	if params.MaxChargePowerWatt >= 0 {
		rates.InWRtePercent = (float64(params.MaxChargePowerWatt) / capacityWatt) * 100
		rates.ControlCharge = true
	}
	if params.MinDischargePowerWatt >= 0 {
		rates.InWRtePercent = -(float64(params.MinDischargePowerWatt) / capacityWatt) * 100
		rates.ControlCharge = true
	}
	if params.MaxDischargePowerWatt >= 0 {
		rates.OutWRtePercent = (float64(params.MaxDischargePowerWatt) / capacityWatt) * 100
		rates.ControlDischarge = true
	}
	return rates
}

type StorageModbusClient interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*StorageInfo, error)
	GetStorageState() (*StorageState, error)
	SetStorageControl(params StorageControlParams) error
	DisableStorageControl() error
}
