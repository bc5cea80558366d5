package sunspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySF(t *testing.T) {
	assert.InDelta(t, 52.6, applySF(526, uint16(0xFFFF)), 1e-9) // sf -1
	assert.InDelta(t, 5260, applySF(526, 1), 1e-9)
	assert.InDelta(t, 1000, applySFfloat64Inv(100, uint16(0xFFFF)), 1e-9)
}

func TestStorageChargeStatusToString(t *testing.T) {
	assert.Equal(t, "charging", StorageChargeStatusToString(StorageChargeStatusCharging))
	assert.Equal(t, "holding", StorageChargeStatusToString(StorageChargeStatusHolding))
	assert.Equal(t, "unknown(42)", StorageChargeStatusToString(42))
}

func TestStorageRatesForcedCharge(t *testing.T) {
	require := require.New(t)

	params := UncontrolledStorage()
	params.MinChargePowerWatt = 2500
	rates := StorageRatesFor(params, 5000)

	require.True(rates.ControlDischarge)
	require.False(rates.ControlCharge)
	require.InDelta(-50, rates.OutWRtePercent, 1e-9)
	require.InDelta(100, rates.InWRtePercent, 1e-9)
}

func TestStorageRatesHoldWithChargeLimit(t *testing.T) {
	require := require.New(t)

	params := UncontrolledStorage()
	params.MaxDischargePowerWatt = 0
	params.MaxChargePowerWatt = 1000
	rates := StorageRatesFor(params, 5000)

	require.True(rates.ControlDischarge)
	require.True(rates.ControlCharge)
	require.InDelta(0, rates.OutWRtePercent, 1e-9)
	require.InDelta(20, rates.InWRtePercent, 1e-9)
}

func TestStorageRatesUncontrolled(t *testing.T) {
	rates := StorageRatesFor(UncontrolledStorage(), 5000)
	assert.Equal(t, StorageRates{OutWRtePercent: 100, InWRtePercent: 100}, rates)

	// unknown capacity never produces a control
	params := UncontrolledStorage()
	params.MinChargePowerWatt = 1000
	assert.Equal(t, StorageRates{OutWRtePercent: 100, InWRtePercent: 100}, StorageRatesFor(params, 0))
}

func TestTestStorageModbusClientRecords(t *testing.T) {
	require := require.New(t)

	client := CreateTestStorageModbusClient()
	require.NoError(client.SetStorageControl(UncontrolledStorage()))
	require.NoError(client.DisableStorageControl())
	require.Equal(1, client.ControlCount())
	require.Equal(1, client.Disabled)

	state, err := client.GetStorageState()
	require.NoError(err)
	require.Equal(23.5, state.StateOfCharge)
}
