package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/util"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func TestDefaultLoadRepeatsProfile(t *testing.T) {
	load, err := DefaultLoad{}.Load(context.Background(), start, 48)
	require.NoError(t, err)
	require.Len(t, load, 48)
	assert.Equal(t, 200.0, load[0])
	assert.Equal(t, 550.0, load[11])
	assert.Equal(t, load[11], load[35])
}

func TestDefaultPVSumsInstallations(t *testing.T) {
	require := require.New(t)

	source := DefaultPV{
		Installations: []config.PVInstallation{{Name: "south", MaxPowerW: 5000}, {Name: "west", MaxPowerW: 1000}},
		TemperatureC:  12,
	}
	pv, temperature, err := source.PV(context.Background(), start, 48)
	require.NoError(err)
	require.Len(pv, 48)
	require.Len(temperature, 48)
	require.Equal(0.0, pv[3])
	require.InDelta(4200.0, pv[12], 1e-9)
	require.InDelta(pv[12], pv[36], 1e-9)
	require.Equal(12.0, temperature[20])
}

func TestStaticPrice(t *testing.T) {
	t.Run("flat default", func(t *testing.T) {
		price, feedIn, err := NewStaticPrice(config.PriceConfig{Source: "default", DefaultCtKWh: 10, FeedInPriceCtKWh: 8}).
			Prices(context.Background(), start, 48)
		require.NoError(t, err)
		assert.InDelta(t, 0.0001, price[0], 1e-12)
		assert.InDelta(t, 0.0001, price[47], 1e-12)
		assert.InDelta(t, 0.00008, feedIn[5], 1e-12)
	})

	t.Run("fixed table extended to horizon", func(t *testing.T) {
		table := make([]float64, 24)
		for i := range table {
			table[i] = float64(20 + i)
		}
		table[3] = -2
		price, feedIn, err := NewStaticPrice(config.PriceConfig{Source: "fixed_24h", DefaultCtKWh: 10,
			Fixed24hArray: table, FeedInPriceCtKWh: 8, NegativePriceSwitch: true}).
			Prices(context.Background(), start, 48)
		require.NoError(t, err)
		assert.InDelta(t, 0.0002, price[0], 1e-12)
		assert.InDelta(t, 0.00043, price[47], 1e-12)
		assert.InDelta(t, -0.00002, price[27], 1e-12)
		assert.Equal(t, 0.0, feedIn[27])
		assert.InDelta(t, 0.00008, feedIn[28], 1e-12)
	})

	t.Run("short table falls back to default", func(t *testing.T) {
		price, _, err := NewStaticPrice(config.PriceConfig{Source: "fixed_24h", DefaultCtKWh: 30,
			Fixed24hArray: []float64{1, 2, 3}}).Prices(context.Background(), start, 24)
		require.NoError(t, err)
		assert.InDelta(t, 0.0003, price[2], 1e-12)
	})
}

func TestParseStateValue(t *testing.T) {
	tests := []struct {
		body     string
		expected float64
		ok       bool
	}{
		{`{"state":"64.5"}`, 64.5, true},
		{`{"state":"90 %"}`, 90, true},
		{`{"state":0.11}`, 0.11, true},
		{`{"state":"unavailable"}`, 0, false},
		{`{"state":"nan"}`, 0, false},
		{`{"state":"NaN %"}`, 0, false},
		{`{"state":"-Inf"}`, 0, false},
		{`{"state":""}`, 0, false},
		{`{}`, 0, false},
	}
	for _, tt := range tests {
		value, err := parseStateValue([]byte(tt.body))
		if tt.ok {
			require.NoError(t, err, tt.body)
			assert.Equal(t, tt.expected, value, tt.body)
		} else {
			assert.Error(t, err, tt.body)
		}
	}
}

func TestHomeAssistantSOC(t *testing.T) {
	require := require.New(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/api/states/sensor.battery_soc" || r.Header.Get("Authorization") != "Bearer token123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"entity_id":"sensor.battery_soc","state":"64.47"}`))
	}))
	defer server.Close()

	source := NewHomeAssistantSOC(server.URL+"/", "sensor.battery_soc", "token123", zap.NewNop()).(*httpSOC)
	source.newBackOff = fastBackOff

	soc, err := source.SOC(context.Background())
	require.NoError(err)
	require.Equal(64.5, soc)
	require.Equal(int32(2), calls.Load())
}

func TestHomeAssistantSOCUnauthorizedIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	source := NewHomeAssistantSOC(server.URL, "sensor.battery_soc", "bad", zap.NewNop()).(*httpSOC)
	source.newBackOff = fastBackOff

	_, err := source.SOC(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestOpenHABSOCFractionAndPercent(t *testing.T) {
	var state atomic.Value
	state.Store(`"0.83"`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/items/BatterySOC", r.URL.Path)
		w.Write([]byte(`{"name":"BatterySOC","state":` + state.Load().(string) + `}`))
	}))
	defer server.Close()

	source := NewOpenHABSOC(server.URL, "BatterySOC", zap.NewNop()).(*httpSOC)
	source.newBackOff = fastBackOff

	soc, err := source.SOC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 83.0, soc)

	state.Store(`"57 %"`)
	soc, err = source.SOC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 57.0, soc)
}

func TestHTTPSOCStopsAtContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	source := NewOpenHABSOC(server.URL, "BatterySOC", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	began := time.Now()
	_, err := source.SOC(ctx)
	require.Error(t, err)
	require.Less(t, time.Since(began), 5*time.Second)
}

func TestSunSpecSOC(t *testing.T) {
	client := sunspec.CreateTestStorageModbusClient()
	soc, err := SunSpecSOC{Client: client}.SOC(context.Background())
	require.NoError(t, err)
	require.Equal(t, 23.5, soc)

	client.Err = errors.New("timeout")
	_, err = SunSpecSOC{Client: client}.SOC(context.Background())
	require.Error(t, err)
}

func TestNewSources(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	sources, err := NewSources(cfg, nil, zap.NewNop())
	require.NoError(err)
	soc, err := sources.SOC.SOC(context.Background())
	require.NoError(err)
	require.Equal(cfg.Battery.DefaultSOC, soc)

	cfg.Battery.Source = "sunspec"
	_, err = NewSources(cfg, nil, zap.NewNop())
	var cfgErr *domain.ConfigError
	require.True(errors.As(err, &cfgErr))

	sources, err = NewSources(cfg, sunspec.CreateTestStorageModbusClient(), zap.NewNop())
	require.NoError(err)
	require.IsType(SunSpecSOC{}, sources.SOC)

	cfg.Battery.Source = "homeassistant"
	cfg.Battery.URL = "http://ha.local:8123"
	cfg.Battery.SOCSensor = "sensor.soc"
	sources, err = NewSources(cfg, nil, zap.NewNop())
	require.NoError(err)
	require.IsType(&httpSOC{}, sources.SOC)
}
