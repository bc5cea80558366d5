package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DEFAULT_COLLECT_TIMEOUT = 30 * time.Second
	DEFAULT_SOC_PERCENT     = 5.0
	DEFAULT_TEMPERATURE_C   = 15.0
)

// Collector fetches all forecast sources concurrently. A failing source is
// replaced by its last known series for the same day, else by defaults.
type Collector struct {
	Load     port.LoadSource
	PV       port.PVSource
	Price    port.PriceSource
	SOC      port.SOCSource
	Hours    int
	Timeout  time.Duration
	Location *time.Location
	Metrics  port.MetricsRecorder
	Logger   *zap.Logger

	mu      sync.Mutex
	last    domain.ForecastInputs
	lastDay time.Time
	hasSOC  bool
}

func (c *Collector) Collect(ctx context.Context, now time.Time) (domain.ForecastInputs, error) {
	hours := c.Hours
	if hours <= 0 {
		hours = HORIZON_HOURS
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DEFAULT_COLLECT_TIMEOUT
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := DayStart(now, c.Location)

	var (
		g                                errgroup.Group
		load, pv, temp, price, feedIn    []float64
		soc                              float64
		loadErr, pvErr, priceErr, socErr error
	)
	g.Go(func() error {
		load, loadErr = c.Load.Load(ctx, start, hours)
		return nil
	})
	g.Go(func() error {
		pv, temp, pvErr = c.PV.PV(ctx, start, hours)
		return nil
	})
	g.Go(func() error {
		price, feedIn, priceErr = c.Price.Prices(ctx, start, hours)
		return nil
	})
	g.Go(func() error {
		soc, socErr = c.SOC.SOC(ctx)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	sameDay := c.lastDay.Equal(start)
	var errs error
	failed := func(source string, err error) {
		c.Logger.Warn("collector@fetch: source unavailable, using fallback", zap.String("source", source), zap.Error(err))
		if c.Metrics != nil {
			c.Metrics.ObserveForecastFailure(source)
		}
		errs = multierr.Append(errs, &domain.ForecastUnavailableError{Source: source, Err: err})
	}

	inputs := domain.ForecastInputs{}

	if loadErr == nil && len(load) > 0 {
		inputs.LoadWh = fit(load, hours)
	} else {
		failed("load", orEmpty(loadErr))
		inputs.LoadWh = fallbackSeries(sameDay, c.last.LoadWh, hours, 0)
	}

	if pvErr == nil && len(pv) > 0 {
		inputs.PVWh = fit(pv, hours)
		inputs.TemperatureC = fit(temp, hours)
		if len(temp) == 0 {
			inputs.TemperatureC = constantSeries(DEFAULT_TEMPERATURE_C, hours)
		}
	} else {
		failed("pv", orEmpty(pvErr))
		inputs.PVWh = fallbackSeries(sameDay, c.last.PVWh, hours, 0)
		inputs.TemperatureC = fallbackSeries(sameDay, c.last.TemperatureC, hours, DEFAULT_TEMPERATURE_C)
	}

	if priceErr == nil && len(price) > 0 {
		inputs.PriceEuroPerWh = fit(price, hours)
		inputs.FeedInEuroPerWh = fit(feedIn, hours)
	} else {
		failed("price", orEmpty(priceErr))
		inputs.PriceEuroPerWh = fallbackSeries(sameDay, c.last.PriceEuroPerWh, hours, 0)
		inputs.FeedInEuroPerWh = fallbackSeries(sameDay, c.last.FeedInEuroPerWh, hours, 0)
	}

	if socErr == nil && (math.IsNaN(soc) || math.IsInf(soc, 0)) {
		socErr = fmt.Errorf("state of charge %v is not a number", soc)
	}
	if socErr == nil {
		inputs.SOCPercent = min(100, max(0, soc))
		c.hasSOC = true
	} else {
		failed("soc", socErr)
		inputs.SOCPercent = DEFAULT_SOC_PERCENT
		if c.hasSOC {
			inputs.SOCPercent = c.last.SOCPercent
		}
	}

	c.last = inputs
	c.lastDay = start
	return inputs, errs
}

func orEmpty(err error) error {
	if err == nil {
		return errors.New("empty series")
	}
	return err
}

func fallbackSeries(sameDay bool, last []float64, hours int, def float64) []float64 {
	if sameDay && len(last) == hours {
		return last
	}
	return constantSeries(def, hours)
}

func constantSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
