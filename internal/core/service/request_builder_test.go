package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() *RequestBuilder {
	return &RequestBuilder{
		Battery: domain.StorageParams{
			CapacityWh:          11059,
			ChargeEfficiency:    0.88,
			DischargeEfficiency: 0.88,
			MaxChargePowerW:     5000,
			MinSOCPercent:       5,
			MaxSOCPercent:       100,
		},
		Inverter: domain.InverterParams{MaxPowerWh: 8500},
		Location: berlin,
	}
}

func genInputs(soc float64) domain.ForecastInputs {
	series := func(v float64, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	return domain.ForecastInputs{
		LoadWh:          series(400, 48),
		PVWh:            series(1000, 48),
		PriceEuroPerWh:  series(0.0003, 48),
		FeedInEuroPerWh: series(0.00008, 48),
		TemperatureC:    series(15, 24),
		SOCPercent:      soc,
	}
}

func TestBuildCurrentSchema(t *testing.T) {

	require := require.New(t)

	now := time.Date(2025, 5, 10, 13, 25, 0, 0, berlin)
	req := newTestBuilder().Build(domain.SchemaCurrent, genInputs(42), []float64{1, 2, 3}, now)

	require.Equal(13, req.StartHour)
	require.Len(req.EMS.LoadWh, 48)
	require.Len(req.TemperatureForecast, 48)
	require.EqualValues(15, req.TemperatureForecast[47], "short series are padded with their last value")
	require.EqualValues(42, req.Battery.InitialSOCPercent)

	raw, err := json.Marshal(req)
	require.NoError(err)

	var payload map[string]any
	require.NoError(json.Unmarshal(raw, &payload))
	akku := payload["pv_akku"].(map[string]any)
	require.Equal("battery1", akku["device_id"])
	require.EqualValues(11059, akku["capacity_wh"])
	require.EqualValues(42, akku["initial_soc_percentage"])
	inverter := payload["inverter"].(map[string]any)
	require.Equal("inverter1", inverter["device_id"])
	require.Equal("battery1", inverter["battery_id"])
	require.EqualValues(8500, inverter["max_power_wh"])
	require.Equal("ev1", payload["eauto"].(map[string]any)["device_id"])
	require.Equal([]any{1.0, 2.0, 3.0}, payload["start_solution"])
	require.Contains(payload["ems"].(map[string]any), "gesamtlast")
}

func TestBuildLegacySchema(t *testing.T) {

	require := require.New(t)

	now := time.Date(2025, 5, 10, 7, 0, 0, 0, berlin)
	req := newTestBuilder().Build(domain.SchemaLegacy, genInputs(60), []float64{1, 2, 3}, now)

	raw, err := json.Marshal(req)
	require.NoError(err)

	var payload map[string]any
	require.NoError(json.Unmarshal(raw, &payload))
	akku := payload["pv_akku"].(map[string]any)
	require.EqualValues(11059, akku["kapazitaet_wh"])
	require.EqualValues(60, akku["start_soc_prozent"])
	require.NotContains(akku, "device_id")
	require.EqualValues(8500, payload["inverter"].(map[string]any)["max_leistung_wh"])
	require.Nil(payload["start_solution"])
	require.Contains(payload, "start_solution")
}

func TestBuildUnknownSchemaFailsToEncode(t *testing.T) {
	req := newTestBuilder().Build(domain.SchemaUnknown, genInputs(50), nil, time.Now())
	_, err := json.Marshal(req)
	assert.Error(t, err)
}

func TestDayStart(t *testing.T) {
	now := time.Date(2025, 5, 10, 1, 30, 0, 0, time.UTC) // 03:30 in Berlin
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, berlin), DayStart(now, berlin))
}

func TestFit(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 2}, fit([]float64{1, 2}, 3))
	assert.Equal(t, []float64{1, 2}, fit([]float64{1, 2, 3}, 2))
	assert.Equal(t, []float64{0, 0}, fit(nil, 2))
}
