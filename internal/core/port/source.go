package port

import (
	"context"
	"time"
)

// LoadSource returns household consumption in Wh per hour starting at start.
type LoadSource interface {
	Load(ctx context.Context, start time.Time, hours int) ([]float64, error)
}

// PVSource returns summed PV production (Wh per hour) and temperature (°C).
type PVSource interface {
	PV(ctx context.Context, start time.Time, hours int) (pv []float64, temperature []float64, err error)
}

// PriceSource returns grid price and feed-in remuneration in €/Wh.
type PriceSource interface {
	Prices(ctx context.Context, start time.Time, hours int) (price []float64, feedIn []float64, err error)
}

type SOCSource interface {
	SOC(ctx context.Context) (float64, error)
}
