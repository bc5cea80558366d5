package sunspec

import "sync"

// TestStorageModbusClient is an in-memory StorageModbusClient that records control writes.
type TestStorageModbusClient struct {
	mu       sync.Mutex
	State    StorageState
	Controls []StorageControlParams
	Disabled int
	Closed   bool
	Err      error
}

func CreateTestStorageModbusClient() *TestStorageModbusClient {
	return &TestStorageModbusClient{
		State: StorageState{
			StateOfCharge:       23.5,
			MaxCapacityWatt:     5260,
			CurrentCapacityWatt: 1236,
			ChargeStatus:        StorageChargeStatusCharging,
			ChargeStatusStr:     StorageChargeStatusToString(StorageChargeStatusCharging),
		},
	}
}

func (st *TestStorageModbusClient) Open() error {
	return st.Err
}

func (st *TestStorageModbusClient) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Closed = true
	return nil
}

func (st *TestStorageModbusClient) Validate() error {
	return st.Err
}

func (st *TestStorageModbusClient) GetInfo() (*StorageInfo, error) {
	if st.Err != nil {
		return nil, st.Err
	}
	return &StorageInfo{
		Manufacturer:       "Fronius",
		Model:              "Symo GEN24 6.0 Plus",
		Version:            "1.30.7-1",
		MaxChargePowerWatt: 5260,
	}, nil
}

func (st *TestStorageModbusClient) GetStorageState() (*StorageState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Err != nil {
		return nil, st.Err
	}
	state := st.State
	return &state, nil
}

func (st *TestStorageModbusClient) SetStorageControl(params StorageControlParams) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Err != nil {
		return st.Err
	}
	st.Controls = append(st.Controls, params)
	return nil
}

func (st *TestStorageModbusClient) DisableStorageControl() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Err != nil {
		return st.Err
	}
	st.Disabled++
	return nil
}

func (st *TestStorageModbusClient) ControlCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.Controls)
}

// ensure interface compliance
var _ StorageModbusClient = (*TestStorageModbusClient)(nil)
