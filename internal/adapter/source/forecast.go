package source

import (
	"context"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/port"
)

const CT_KWH_TO_EURO_WH = 100000.0

// household consumption in Wh for each hour of the day
var defaultLoadProfile = [24]float64{
	200, 200, 200, 200, 200, 300, 350, 400, 350, 300, 300, 550,
	450, 400, 300, 300, 400, 450, 500, 500, 500, 400, 300, 200,
}

// share of the installed peak power produced in each hour of the day
var defaultPVProfile = [24]float64{
	0, 0, 0, 0, 0, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6,
	0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1, 0, 0, 0, 0, 0,
}

// repeatDaily spreads a 24h profile over hours starting at the local midnight.
func repeatDaily(profile [24]float64, hours int, scale float64) []float64 {
	out := make([]float64, hours)
	for i := range out {
		out[i] = profile[i%24] * scale
	}
	return out
}

type DefaultLoad struct{}

func (DefaultLoad) Load(_ context.Context, _ time.Time, hours int) ([]float64, error) {
	return repeatDaily(defaultLoadProfile, hours, 1), nil
}

// DefaultPV sums the static profile of every installation.
type DefaultPV struct {
	Installations []config.PVInstallation
	TemperatureC  float64
}

func (s DefaultPV) PV(_ context.Context, _ time.Time, hours int) ([]float64, []float64, error) {
	pv := make([]float64, hours)
	for _, installation := range s.Installations {
		for i, wh := range repeatDaily(defaultPVProfile, hours, installation.MaxPowerW) {
			pv[i] += wh
		}
	}
	temperature := make([]float64, hours)
	for i := range temperature {
		temperature[i] = s.TemperatureC
	}
	return pv, temperature, nil
}

// StaticPrice serves a flat price or a fixed 24h table, converted from ct/kWh to €/Wh.
type StaticPrice struct {
	DefaultCtKWh        float64
	Fixed24h            []float64
	FeedInCtKWh         float64
	NegativePriceSwitch bool
}

func NewStaticPrice(cfg config.PriceConfig) *StaticPrice {
	s := &StaticPrice{
		DefaultCtKWh:        cfg.DefaultCtKWh,
		FeedInCtKWh:         cfg.FeedInPriceCtKWh,
		NegativePriceSwitch: cfg.NegativePriceSwitch,
	}
	if cfg.Source == "fixed_24h" && len(cfg.Fixed24hArray) == 24 {
		s.Fixed24h = cfg.Fixed24hArray
	}
	return s
}

func (s *StaticPrice) Prices(_ context.Context, _ time.Time, hours int) ([]float64, []float64, error) {
	price := make([]float64, hours)
	feedIn := make([]float64, hours)
	for i := range price {
		ct := s.DefaultCtKWh
		if s.Fixed24h != nil {
			ct = s.Fixed24h[i%24]
		}
		price[i] = ct / CT_KWH_TO_EURO_WH
		feedIn[i] = s.FeedInCtKWh / CT_KWH_TO_EURO_WH
		if s.NegativePriceSwitch && price[i] < 0 {
			feedIn[i] = 0
		}
	}
	return price, feedIn, nil
}

// ensure interface compliance
var _ port.LoadSource = DefaultLoad{}
var _ port.PVSource = DefaultPV{}
var _ port.PriceSource = (*StaticPrice)(nil)
