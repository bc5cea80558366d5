package sunspec

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_WK_COMMON  = 1
	SUNSPEC_WK_STATUS  = 122
	SUNSPEC_WK_STORAGE = 124
)

type storageModbusBlocks struct {
	common  uint16
	status  uint16
	storage uint16
}

func (blk *storageModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.status > 0 && blk.storage > 0
}

func (st *StorageIntSFModbusClient) survey() error {

	// check SunSpec
	str, err := st.readString(40000, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec inverter")
	}

	// survey blocks
	blocks := storageModbusBlocks{}
	var baseAddr uint16 = 40002
	n := 0
	for {
		block, err := surveyModbusBlock(st.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			break
		}
		switch block.id {
		case SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case SUNSPEC_WK_STATUS:
			blocks.status = block.baseAddr
		case SUNSPEC_WK_STORAGE:
			blocks.storage = block.baseAddr
		}
		baseAddr = baseAddr + block.length + 2
		// ensure the loop has an ending
		if blocks.AllBlocksDefined() || n > 20 {
			break
		}
		n++
	}
	if blocks.common > 0 && blocks.storage > 0 {
		st.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, storage)")
}

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == 0xFFFF
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	wellKnownValue, err := client.ReadRegister(baseAddr, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	length, err := client.ReadRegister(baseAddr+1, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       wellKnownValue,
		length:   length,
		baseAddr: baseAddr,
	}, nil
}
