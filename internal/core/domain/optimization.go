package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SchemaVariant identifies which incompatible solver API revision is in use.
type SchemaVariant int

const (
	SchemaUnknown SchemaVariant = iota
	// SchemaLegacy is the solver API before 2025-04-09 (german payload keys).
	SchemaLegacy
	// SchemaCurrent is the solver API since 2025-04-09 (device ids, english keys).
	SchemaCurrent
)

func (v SchemaVariant) String() string {
	switch v {
	case SchemaLegacy:
		return "<2025-04-09"
	case SchemaCurrent:
		return ">=2025-04-09"
	}
	return "unknown"
}

func (v SchemaVariant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ForecastInputs are the normalized collaborator series for one cycle.
type ForecastInputs struct {
	LoadWh          []float64
	PVWh            []float64
	PriceEuroPerWh  []float64
	FeedInEuroPerWh []float64
	TemperatureC    []float64
	SOCPercent      float64
}

type EMSData struct {
	PVForecastWh          []float64
	PriceEuroPerWh        []float64
	FeedInEuroPerWh       []float64
	BatteryPriceEuroPerWh float64
	LoadWh                []float64
}

type StorageParams struct {
	DeviceID            string
	CapacityWh          float64
	ChargeEfficiency    float64
	DischargeEfficiency float64
	MaxChargePowerW     float64
	InitialSOCPercent   float64
	MinSOCPercent       float64
	MaxSOCPercent       float64
}

type InverterParams struct {
	DeviceID   string
	MaxPowerWh float64
	BatteryID  string
}

type ApplianceParams struct {
	DeviceID      string
	ConsumptionWh float64
	DurationH     int
}

type OptimizationRequest struct {
	Variant             SchemaVariant
	CreatedAt           time.Time
	StartHour           int
	EMS                 EMSData
	Battery             StorageParams
	Inverter            InverterParams
	EV                  StorageParams
	Dishwasher          ApplianceParams
	TemperatureForecast []float64
	StartSolution       []float64
}

type emsPayload struct {
	PVForecastWh          []float64 `json:"pv_prognose_wh"`
	PriceEuroPerWh        []float64 `json:"strompreis_euro_pro_wh"`
	FeedInEuroPerWh       []float64 `json:"einspeiseverguetung_euro_pro_wh"`
	BatteryPriceEuroPerWh float64   `json:"preis_euro_pro_wh_akku"`
	LoadWh                []float64 `json:"gesamtlast"`
}

type legacyStoragePayload struct {
	CapacityWh          float64 `json:"kapazitaet_wh"`
	ChargeEfficiency    float64 `json:"lade_effizienz"`
	DischargeEfficiency float64 `json:"entlade_effizienz"`
	MaxChargePowerW     float64 `json:"max_ladeleistung_w"`
	InitialSOCPercent   float64 `json:"start_soc_prozent"`
	MinSOCPercent       float64 `json:"min_soc_prozent"`
	MaxSOCPercent       float64 `json:"max_soc_prozent"`
}

type storagePayload struct {
	DeviceID            string  `json:"device_id"`
	Hours               *int    `json:"hours"`
	CapacityWh          float64 `json:"capacity_wh"`
	ChargeEfficiency    float64 `json:"charging_efficiency"`
	DischargeEfficiency float64 `json:"discharging_efficiency"`
	MaxChargePowerW     float64 `json:"max_charge_power_w"`
	InitialSOCPercent   float64 `json:"initial_soc_percentage"`
	MinSOCPercent       float64 `json:"min_soc_percentage"`
	MaxSOCPercent       float64 `json:"max_soc_percentage"`
}

type legacyInverterPayload struct {
	MaxPowerWh float64 `json:"max_leistung_wh"`
}

type inverterPayload struct {
	DeviceID   string  `json:"device_id"`
	MaxPowerWh float64 `json:"max_power_wh"`
	BatteryID  string  `json:"battery_id"`
}

type appliancePayload struct {
	DeviceID      string  `json:"device_id"`
	ConsumptionWh float64 `json:"consumption_wh"`
	DurationH     int     `json:"duration_h"`
}

type legacyRequestPayload struct {
	EMS                 emsPayload            `json:"ems"`
	Battery             legacyStoragePayload  `json:"pv_akku"`
	Inverter            legacyInverterPayload `json:"inverter"`
	EV                  legacyStoragePayload  `json:"eauto"`
	Dishwasher          appliancePayload      `json:"dishwasher"`
	TemperatureForecast []float64             `json:"temperature_forecast"`
	StartSolution       []float64             `json:"start_solution"`
}

type requestPayload struct {
	EMS                 emsPayload       `json:"ems"`
	Battery             storagePayload   `json:"pv_akku"`
	Inverter            inverterPayload  `json:"inverter"`
	EV                  storagePayload   `json:"eauto"`
	Dishwasher          appliancePayload `json:"dishwasher"`
	TemperatureForecast []float64        `json:"temperature_forecast"`
	StartSolution       []float64        `json:"start_solution"`
}

// MarshalJSON renders the wire shape of the request's schema variant.
func (r OptimizationRequest) MarshalJSON() ([]byte, error) {
	ems := emsPayload{
		PVForecastWh:          r.EMS.PVForecastWh,
		PriceEuroPerWh:        r.EMS.PriceEuroPerWh,
		FeedInEuroPerWh:       r.EMS.FeedInEuroPerWh,
		BatteryPriceEuroPerWh: r.EMS.BatteryPriceEuroPerWh,
		LoadWh:                r.EMS.LoadWh,
	}
	dishwasher := appliancePayload{
		DeviceID:      r.Dishwasher.DeviceID,
		ConsumptionWh: r.Dishwasher.ConsumptionWh,
		DurationH:     r.Dishwasher.DurationH,
	}
	switch r.Variant {
	case SchemaLegacy:
		return json.Marshal(legacyRequestPayload{
			EMS:                 ems,
			Battery:             legacyStorage(r.Battery),
			Inverter:            legacyInverterPayload{MaxPowerWh: r.Inverter.MaxPowerWh},
			EV:                  legacyStorage(r.EV),
			Dishwasher:          dishwasher,
			TemperatureForecast: r.TemperatureForecast,
			// the legacy solver cannot warm start
			StartSolution: nil,
		})
	case SchemaCurrent:
		var startSolution []float64
		if len(r.StartSolution) > 0 {
			startSolution = r.StartSolution
		}
		return json.Marshal(requestPayload{
			EMS:     ems,
			Battery: currentStorage(r.Battery),
			Inverter: inverterPayload{
				DeviceID:   r.Inverter.DeviceID,
				MaxPowerWh: r.Inverter.MaxPowerWh,
				BatteryID:  r.Inverter.BatteryID,
			},
			EV:                  currentStorage(r.EV),
			Dishwasher:          dishwasher,
			TemperatureForecast: r.TemperatureForecast,
			StartSolution:       startSolution,
		})
	}
	return nil, fmt.Errorf("cannot encode request for schema variant %s", r.Variant)
}

func legacyStorage(p StorageParams) legacyStoragePayload {
	return legacyStoragePayload{
		CapacityWh:          p.CapacityWh,
		ChargeEfficiency:    p.ChargeEfficiency,
		DischargeEfficiency: p.DischargeEfficiency,
		MaxChargePowerW:     p.MaxChargePowerW,
		InitialSOCPercent:   p.InitialSOCPercent,
		MinSOCPercent:       p.MinSOCPercent,
		MaxSOCPercent:       p.MaxSOCPercent,
	}
}

func currentStorage(p StorageParams) storagePayload {
	return storagePayload{
		DeviceID:            p.DeviceID,
		CapacityWh:          p.CapacityWh,
		ChargeEfficiency:    p.ChargeEfficiency,
		DischargeEfficiency: p.DischargeEfficiency,
		MaxChargePowerW:     p.MaxChargePowerW,
		InitialSOCPercent:   p.InitialSOCPercent,
		MinSOCPercent:       p.MinSOCPercent,
		MaxSOCPercent:       p.MaxSOCPercent,
	}
}

// FlexBool accepts true/false as well as the 0/1 numbers some solver builds emit.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid boolean value %s", data)
	}
	*b = f != 0
	return nil
}

type OptimizationResponse struct {
	ACCharge         []float64  `json:"ac_charge"`
	DCCharge         []float64  `json:"dc_charge"`
	DischargeAllowed []FlexBool `json:"discharge_allowed"`
	StartSolution    []float64  `json:"start_solution"`

	// DayStart is local midnight of the request day; slot 0 starts there.
	DayStart   time.Time       `json:"-"`
	ReceivedAt time.Time       `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

// Slots is the number of hours the response covers.
func (r *OptimizationResponse) Slots() int {
	return min(len(r.ACCharge), len(r.DischargeAllowed))
}
