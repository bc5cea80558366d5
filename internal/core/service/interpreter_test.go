package service

import (
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var berlin = mustLocation("Europe/Berlin")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestInterpreter() *Interpreter {
	return &Interpreter{
		MaxGridChargeRateW: 5000,
		MaxPVChargeRateW:   4000,
		MaxResponseAge:     DEFAULT_MAX_RESPONSE_AGE,
		Location:           berlin,
		Logger:             zap.NewNop(),
	}
}

// genResponse builds a 48 slot response for the day of dayStart where only
// the given hour carries a decision.
func genResponse(dayStart time.Time, hour int, ac, dc float64, discharge bool) *domain.OptimizationResponse {
	resp := &domain.OptimizationResponse{
		ACCharge:         make([]float64, 48),
		DCCharge:         make([]float64, 48),
		DischargeAllowed: make([]domain.FlexBool, 48),
		StartSolution:    []float64{0, 1, 2},
		DayStart:         dayStart,
		ReceivedAt:       dayStart.Add(time.Duration(hour) * time.Hour),
	}
	resp.ACCharge[hour] = ac
	resp.DCCharge[hour] = dc
	resp.DischargeAllowed[hour] = domain.FlexBool(discharge)
	return resp
}

func TestInterpretGridChargeSlot(t *testing.T) {

	require := require.New(t)

	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	resp := genResponse(day, 13, 0.3, 0.5, false)

	d, ok := newTestInterpreter().Interpret(resp, day.Add(13*time.Hour+20*time.Minute))
	require.True(ok)
	require.Equal(domain.InverterModeChargeFromGrid, d.Mode)
	require.EqualValues(1500, d.ACChargeDemandW)
	require.EqualValues(2000, d.DCChargeDemandW)
	require.Equal(domain.TargetOriginAuto, d.Origin)
}

func TestInterpretModes(t *testing.T) {
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	tests := []struct {
		name      string
		ac        float64
		discharge bool
		want      domain.InverterMode
	}{
		{"grid charge wins over discharge", 0.1, true, domain.InverterModeChargeFromGrid},
		{"discharge allowed", 0, true, domain.InverterModeDischargeAllowed},
		{"avoid discharge", 0, false, domain.InverterModeAvoidDischarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := newTestInterpreter().Interpret(genResponse(day, 8, tt.ac, 0, tt.discharge), day.Add(8*time.Hour))
			require.True(t, ok)
			assert.Equal(t, tt.want, d.Mode)
		})
	}
}

func TestInterpretNextDaySlot(t *testing.T) {
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	resp := genResponse(day, 30, 0, 0, true)
	resp.ReceivedAt = day.Add(23 * time.Hour)

	d, ok := newTestInterpreter().Interpret(resp, time.Date(2025, 5, 11, 6, 10, 0, 0, berlin))
	require.True(t, ok)
	assert.Equal(t, domain.InverterModeDischargeAllowed, d.Mode)
}

func TestInterpretDSTDayKeepsLocalHours(t *testing.T) {
	// 2025-03-30 has 23 hours in Berlin
	day := time.Date(2025, 3, 30, 0, 0, 0, 0, berlin)
	resp := genResponse(day, 14, 0.2, 0, false)

	d, ok := newTestInterpreter().Interpret(resp, time.Date(2025, 3, 30, 14, 30, 0, 0, berlin))
	require.True(t, ok)
	assert.EqualValues(t, 1000, d.ACChargeDemandW)
}

func TestInterpretOutOfRange(t *testing.T) {
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	resp := genResponse(day, 2, 0, 0, false)
	resp.ACCharge = resp.ACCharge[:3]

	_, ok := newTestInterpreter().Interpret(resp, day.Add(5*time.Hour))
	assert.False(t, ok)

	_, ok = newTestInterpreter().Interpret(resp, day.Add(-time.Hour))
	assert.False(t, ok)

	_, ok = newTestInterpreter().Interpret(nil, day)
	assert.False(t, ok)
}

func TestInterpretStaleResponse(t *testing.T) {
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	resp := genResponse(day, 20, 0, 0, true)
	resp.ReceivedAt = day

	_, ok := newTestInterpreter().Interpret(resp, day.Add(20*time.Hour))
	assert.False(t, ok, "responses older than the max age must not be used")
}

func TestDecideFallsBackToPrevious(t *testing.T) {

	require := require.New(t)

	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	now := day.Add(10 * time.Hour)

	previous := genResponse(day, 10, 0, 0, true)
	current := genResponse(day, 10, 0, 0, false)
	current.ACCharge = current.ACCharge[:4]

	d := newTestInterpreter().Decide(current, previous, now)
	require.Equal(domain.InverterModeDischargeAllowed, d.Mode)
	require.Equal(domain.TargetOriginAuto, d.Origin)
}

func TestDecideSafeDefault(t *testing.T) {

	require := require.New(t)

	day := time.Date(2025, 5, 10, 0, 0, 0, 0, berlin)
	d := newTestInterpreter().Decide(nil, nil, day.Add(10*time.Hour))
	require.Equal(domain.InverterModeAvoidDischarge, d.Mode)
	require.Zero(d.ACChargeDemandW)
	require.False(d.DischargeAllowed)
	require.Equal(domain.TargetOriginFallback, d.Origin)
}
