package service

import (
	"slices"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

const HORIZON_HOURS = 48

// RequestBuilder turns the collected forecasts into a solver request.
type RequestBuilder struct {
	Battery            domain.StorageParams
	BatteryPriceEuroWh float64
	Inverter           domain.InverterParams
	EV                 domain.StorageParams
	Dishwasher         domain.ApplianceParams
	Hours              int
	Location           *time.Location
}

// DefaultEV and DefaultDishwasher describe placeholder devices the solver
// requires even when no EV or appliance is planned.
var (
	DefaultEV = domain.StorageParams{
		DeviceID:            "ev1",
		CapacityWh:          27000,
		ChargeEfficiency:    0.90,
		DischargeEfficiency: 0.95,
		MaxChargePowerW:     7360,
		InitialSOCPercent:   50,
		MinSOCPercent:       5,
		MaxSOCPercent:       100,
	}
	DefaultDishwasher = domain.ApplianceParams{
		DeviceID:      "dishwasher1",
		ConsumptionWh: 1,
		DurationH:     1,
	}
)

// DayStart is local midnight of the day of now.
func DayStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (b *RequestBuilder) hours() int {
	if b.Hours > 0 {
		return b.Hours
	}
	return HORIZON_HOURS
}

func (b *RequestBuilder) Build(variant domain.SchemaVariant, inputs domain.ForecastInputs,
	startSolution []float64, now time.Time) domain.OptimizationRequest {

	hours := b.hours()
	battery := b.Battery
	if battery.DeviceID == "" {
		battery.DeviceID = "battery1"
	}
	battery.InitialSOCPercent = inputs.SOCPercent

	inverter := b.Inverter
	if inverter.DeviceID == "" {
		inverter.DeviceID = "inverter1"
	}
	if inverter.BatteryID == "" {
		inverter.BatteryID = battery.DeviceID
	}

	ev := b.EV
	if ev.DeviceID == "" {
		ev = DefaultEV
	}
	if variant == domain.SchemaLegacy {
		// legacy solvers get a disabled EV
		ev.CapacityWh = 1
		ev.MaxChargePowerW = 1
	}
	dishwasher := b.Dishwasher
	if dishwasher.DeviceID == "" {
		dishwasher = DefaultDishwasher
	}

	return domain.OptimizationRequest{
		Variant:   variant,
		CreatedAt: now,
		StartHour: now.In(b.location()).Hour(),
		EMS: domain.EMSData{
			PVForecastWh:          fit(inputs.PVWh, hours),
			PriceEuroPerWh:        fit(inputs.PriceEuroPerWh, hours),
			FeedInEuroPerWh:       fit(inputs.FeedInEuroPerWh, hours),
			BatteryPriceEuroPerWh: b.BatteryPriceEuroWh,
			LoadWh:                fit(inputs.LoadWh, hours),
		},
		Battery:             battery,
		Inverter:            inverter,
		EV:                  ev,
		Dishwasher:          dishwasher,
		TemperatureForecast: fit(inputs.TemperatureC, hours),
		StartSolution:       slices.Clone(startSolution),
	}
}

func (b *RequestBuilder) location() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

// fit truncates or pads values to n entries, padding with the last value.
func fit(values []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, values)
	if len(values) > 0 && len(values) < n {
		last := values[len(values)-1]
		for i := len(values); i < n; i++ {
			out[i] = last
		}
	}
	return out
}
