package inverter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/adapter/evcc"
	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/util"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSunSpecControlMapping(t *testing.T) {
	backend := NewSunSpecBackend(sunspec.CreateTestStorageModbusClient(), 3*time.Minute, zap.NewNop())

	params := backend.controlFor(chargeDispatch(4000, 2500))
	assert.Equal(t, int32(2500), params.MinChargePowerWatt)
	assert.Equal(t, int32(-1), params.MaxDischargePowerWatt)
	assert.Equal(t, uint32(360), params.RevertTimeSeconds)

	params = backend.controlFor(holdDispatch(1200, 2500))
	assert.Equal(t, int32(0), params.MaxDischargePowerWatt)
	assert.Equal(t, int32(1200), params.MaxChargePowerWatt)
	assert.Equal(t, int32(-1), params.MinChargePowerWatt)

	params = backend.controlFor(domain.Dispatch{
		Target:             domain.EffectiveTarget{Mode: domain.InverterModeDischargeAllowed, DCChargeDemandW: 3000},
		MaxChargePowerDynW: 2000,
	})
	assert.Equal(t, int32(2000), params.MaxChargePowerWatt)
	assert.Equal(t, int32(-1), params.MaxDischargePowerWatt)
}

func TestSunSpecApplySkipsUnchangedWithinWindow(t *testing.T) {
	require := require.New(t)

	client := sunspec.CreateTestStorageModbusClient()
	backend := NewSunSpecBackend(client, 3*time.Minute, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(backend.Apply(ctx, holdDispatch(1000, 5000)))
	require.NoError(backend.Apply(ctx, holdDispatch(1000, 5000)))
	require.Equal(1, client.ControlCount())

	// refreshed before the revert timeout expires
	now = now.Add(3 * time.Minute)
	require.NoError(backend.Apply(ctx, holdDispatch(1000, 5000)))
	require.Equal(2, client.ControlCount())

	require.NoError(backend.Apply(ctx, chargeDispatch(2000, 5000)))
	require.Equal(3, client.ControlCount())

	require.NoError(backend.Close(ctx))
	require.Equal(1, client.Disabled)
	require.True(client.Closed)
}

func TestSunSpecApplyError(t *testing.T) {
	client := sunspec.CreateTestStorageModbusClient()
	client.Err = errors.New("connection reset")
	backend := NewSunSpecBackend(client, 3*time.Minute, zap.NewNop())

	err := backend.Apply(context.Background(), holdDispatch(1000, 5000))
	var transportErr *domain.BackendTransportError
	require.True(t, errors.As(err, &transportErr))

	_, err = backend.Status(context.Background())
	require.Error(t, err)
}

func TestSunSpecStatus(t *testing.T) {
	backend := NewSunSpecBackend(sunspec.CreateTestStorageModbusClient(), 3*time.Minute, zap.NewNop())
	telemetry, err := backend.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 23.5, *telemetry.SOCPercent)
	require.Equal(t, sunspec.StorageChargeStatusToString(sunspec.StorageChargeStatusCharging), telemetry.StorageState)
}

type fakeEVCC struct {
	mu     sync.Mutex
	status int
	modes  []string
	state  string
}

func (f *fakeEVCC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method == http.MethodGet && r.URL.Path == "/api/state" {
		w.Write([]byte(f.state))
		return
	}
	if r.Method == http.MethodPost && len(r.URL.Path) > len("/api/batterymode/") {
		f.modes = append(f.modes, r.URL.Path[len("/api/batterymode/"):])
		w.WriteHeader(f.status)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeEVCC) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.modes...)
}

func TestEVCCBackendModes(t *testing.T) {
	require := require.New(t)

	fake := &fakeEVCC{status: http.StatusOK}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewEVCCBackend(evcc.NewClient(server.URL, time.Second), zap.NewNop())
	ctx := context.Background()

	require.NoError(backend.Apply(ctx, chargeDispatch(3000, 5000)))
	require.NoError(backend.Apply(ctx, chargeDispatch(1000, 5000)))
	require.NoError(backend.Apply(ctx, holdDispatch(0, 5000)))
	require.NoError(backend.Apply(ctx, domain.Dispatch{Target: domain.EffectiveTarget{Mode: domain.InverterModeDischargeAllowed}}))
	require.Equal([]string{"charge", "hold", "normal"}, fake.calls())

	require.NoError(backend.Apply(ctx, holdDispatch(0, 5000)))
	require.NoError(backend.Close(ctx))
	require.Equal([]string{"charge", "hold", "normal", "hold", "normal"}, fake.calls())
}

func TestEVCCBackendStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   string
	}{
		{http.StatusUnauthorized, "backend_auth"},
		{http.StatusForbidden, "backend_auth"},
		{http.StatusBadGateway, "backend_transport"},
		{http.StatusBadRequest, "backend_rejected"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			fake := &fakeEVCC{status: tt.status}
			server := httptest.NewServer(fake)
			defer server.Close()

			backend := NewEVCCBackend(evcc.NewClient(server.URL, time.Second), zap.NewNop())
			err := backend.Apply(context.Background(), chargeDispatch(3000, 5000))
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.ErrorKind(err))

			// failed calls are retried on the next cycle
			backend.Apply(context.Background(), chargeDispatch(3000, 5000))
			assert.Len(t, fake.calls(), 2)
		})
	}
}

func TestEVCCBackendStatus(t *testing.T) {
	fake := &fakeEVCC{state: `{"result":{"batterySoc":55,"loadpoints":[{"charging":true}]}}`}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewEVCCBackend(evcc.NewClient(server.URL, time.Second), zap.NewNop())
	telemetry, err := backend.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 55.0, *telemetry.SOCPercent)
	require.True(t, *telemetry.ExternalChargingActive)
}

func TestNoopBackendRecordsDispatch(t *testing.T) {
	backend := NewNoopBackend(zap.NewNop())
	_, ok := backend.LastDispatch()
	require.False(t, ok)

	require.NoError(t, backend.Apply(context.Background(), holdDispatch(800, 5000)))
	last, ok := backend.LastDispatch()
	require.True(t, ok)
	require.Equal(t, domain.InverterModeAvoidDischarge, last.Target.Mode)
	require.Equal(t, 800.0, last.Target.DCChargeDemandW)
}

func TestNewBackend(t *testing.T) {
	cfg := util.LoadTestConfig()
	client := evcc.NewClient("http://evcc.local:7070", 0)
	deps := Dependencies{EVCC: client, Storage: sunspec.CreateTestStorageModbusClient()}

	tests := []struct {
		inverterType config.InverterType
		name         string
	}{
		{config.InverterTypeNone, BACKEND_NONE},
		{config.InverterTypeFroniusLegacy, BACKEND_FRONIUS_LEGACY},
		{config.InverterTypeFroniusAdaptive, BACKEND_FRONIUS_ADAPTIVE},
		{config.InverterTypeEVCC, BACKEND_EVCC},
		{config.InverterTypeSunSpecModbus, BACKEND_SUNSPEC_MODBUS},
	}
	for _, tt := range tests {
		cfg.Inverter.Type = tt.inverterType
		cfg.Inverter.Address = "192.168.1.50"
		backend, err := NewBackend(cfg, deps, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, tt.name, backend.Name())
	}

	cfg.Inverter.Type = config.InverterTypeEVCC
	_, err := NewBackend(cfg, Dependencies{}, zap.NewNop())
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "evcc.url", cfgErr.Key)

	cfg.Inverter.Type = config.InverterType("kostal")
	_, err = NewBackend(cfg, deps, zap.NewNop())
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "inverter.type", cfgErr.Key)
}
