package sunspec

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// StorageIntSFModbusClient reads and controls the SunSpec basic storage model (124)
// of an int+sf inverter. Calls are serialized and the connection is opened on demand.
type StorageIntSFModbusClient struct {
	ModbusClient

	mu            sync.Mutex
	opened        bool
	logger        *zap.Logger
	blocks        storageModbusBlocks
	ignoreFronius bool
}

func (st *StorageIntSFModbusClient) Open() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.open()
}

func (st *StorageIntSFModbusClient) open() error {
	if st.opened {
		return nil
	}
	if err := st.client.Open(); err != nil {
		return err
	}
	if err := st.survey(); err != nil {
		st.client.Close()
		return err
	}
	st.opened = true
	return nil
}

func (st *StorageIntSFModbusClient) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.opened {
		return nil
	}
	st.opened = false
	return st.client.Close()
}

// withOpen runs fn on an open connection and drops the connection when fn fails.
func (st *StorageIntSFModbusClient) withOpen(fn func() error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.open(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		st.logger.Debug("modbus call failed, dropping connection", zap.Error(err))
		st.opened = false
		st.client.Close()
		return err
	}
	return nil
}

func (st *StorageIntSFModbusClient) Validate() error {
	if st.ignoreFronius {
		return nil
	}
	return st.withOpen(func() error {
		str, err := st.readString(st.blocks.common+2, 32)
		if err != nil {
			return err
		}
		if str != "Fronius" {
			return errors.New("could not find a Fronius inverter")
		}
		return nil
	})
}

func (st *StorageIntSFModbusClient) GetInfo() (*StorageInfo, error) {
	var info *StorageInfo
	err := st.withOpen(func() error {
		manufacturer, err := st.readString(st.blocks.common+2, 32)
		if err != nil {
			return err
		}
		model, err := st.readString(st.blocks.common+18, 32)
		if err != nil {
			return err
		}
		version, err := st.readString(st.blocks.common+42, 16)
		if err != nil {
			return err
		}
		capacity, err := st.storageCapacity()
		if err != nil {
			return err
		}
		info = &StorageInfo{
			Manufacturer:       manufacturer,
			Model:              model,
			Version:            version,
			MaxChargePowerWatt: uint32(capacity),
		}
		return nil
	})
	return info, err
}

func (st *StorageIntSFModbusClient) GetStorageState() (*StorageState, error) {
	var state *StorageState
	err := st.withOpen(func() error {
		regs, err := st.readRegisters(st.blocks.storage+2, 24, modbus.HOLDING_REGISTER)
		if err != nil {
			return err
		}
		soc := applySF(regs[6], regs[20])
		// if state == off, soc = 0
		if regs[9] == StorageChargeStatusOff {
			soc = 0
		}
		maxCap := applySF(regs[0], regs[17])

		state = &StorageState{
			StateOfCharge:       soc,
			MaxCapacityWatt:     uint32(math.Round(maxCap)),
			CurrentCapacityWatt: uint32(math.Round(soc / 100 * maxCap)),
			ChargeStatus:        regs[9],
			ChargeStatusStr:     StorageChargeStatusToString(regs[9]),
		}
		return nil
	})
	return state, err
}

func (st *StorageIntSFModbusClient) SetStorageControl(params StorageControlParams) error {
	return st.withOpen(func() error {
		capacity, err := st.storageCapacity()
		if err != nil {
			return err
		}
		rates := StorageRatesFor(params, capacity)
		return st.setStorageChargeControl(rates, int32(params.RevertTimeSeconds))
	})
}

func (st *StorageIntSFModbusClient) DisableStorageControl() error {
	return st.withOpen(func() error {
		return st.setStorageChargeControl(StorageRates{OutWRtePercent: 100, InWRtePercent: 100}, -1)
	})
}

func (st *StorageIntSFModbusClient) setStorageChargeControl(rates StorageRates, rvrtTimeSeconds int32) error {

	inoutSF, err := st.readRegister(st.blocks.storage+25, modbus.HOLDING_REGISTER)
	if err != nil {
		return err
	}
	control := uint16(0)
	if rates.ControlDischarge {
		control = control | 0x02
	}
	if rates.ControlCharge {
		control = control | 0x01
	}

	outWRte := int16(applySFfloat64Inv(rates.OutWRtePercent, inoutSF))
	inWRte := int16(applySFfloat64Inv(rates.InWRtePercent, inoutSF))

	err = st.writeRegisters(st.blocks.storage+12, []uint16{uint16(outWRte), uint16(inWRte)})
	if err != nil {
		return err
	}
	err = st.writeRegister(st.blocks.storage+5, control)
	if err != nil {
		return err
	}
	if rvrtTimeSeconds >= 0 {
		err = st.writeRegister(st.blocks.storage+15, uint16(rvrtTimeSeconds))
		if err != nil {
			return err
		}
	}
	return nil
}

func (st *StorageIntSFModbusClient) storageCapacity() (float64, error) {
	wChaMax, err := st.readRegister(st.blocks.storage+2, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	wChaMaxSF, err := st.readRegister(st.blocks.storage+18, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return applySF(wChaMax, wChaMaxSF), nil
}

func CreateStorageIntSFModbusClient(host string, port uint, unitId uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (*StorageIntSFModbusClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("target", "storage"), zap.Uint8("unit", unitId))

	// instrumentation
	inst := []ModbusInstrument{*debugLoggerInstrumentation(logger)}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	// set unit address
	if unitId > 0 {
		err = client.SetUnitId(unitId)
		if err != nil {
			return nil, err
		}
	}

	return &StorageIntSFModbusClient{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		logger:        logger,
		ignoreFronius: ignoreFronius,
	}, nil
}

// ensure interface compliance
var _ StorageModbusClient = (*StorageIntSFModbusClient)(nil)
