package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "eosconnect"

// Recorder exposes control loop metrics on its own registry.
type Recorder struct {
	registry         *prometheus.Registry
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	solverCalls      *prometheus.CounterVec
	solverDuration   prometheus.Histogram
	dispatches       *prometheus.CounterVec
	forecastFailures *prometheus.CounterVec
	acChargeDemand   prometheus.Gauge
	dcChargeDemand   prometheus.Gauge
	dischargeAllowed prometheus.Gauge
	maxChargePower   prometheus.Gauge
	inverterMode     *prometheus.GaugeVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "cycles_total",
			Help:      "Control cycles by final state",
		}, []string{"state"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full control cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}),
		solverCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "solver_requests_total",
			Help:      "Optimization requests by outcome",
		}, []string{"outcome"}),
		solverDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "solver_duration_seconds",
			Help:      "Optimization request latency",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "dispatches_total",
			Help:      "Backend dispatches by backend and result",
		}, []string{"backend", "result"}),
		forecastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "forecast_failures_total",
			Help:      "Unavailable forecast sources",
		}, []string{"source"}),
		acChargeDemand: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "ac_charge_demand_watts",
			Help:      "Effective grid charge demand",
		}),
		dcChargeDemand: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "dc_charge_demand_watts",
			Help:      "Effective PV charge demand",
		}),
		dischargeAllowed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "discharge_allowed",
			Help:      "1 when the battery may discharge",
		}),
		maxChargePower: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "max_charge_power_dyn_watts",
			Help:      "SOC dependent charge power ceiling",
		}),
		inverterMode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "inverter_mode",
			Help:      "1 for the active inverter mode",
		}, []string{"mode", "origin"}),
	}
}

func (r *Recorder) ObserveCycle(state domain.CycleState, duration time.Duration) {
	r.cycles.WithLabelValues(string(state)).Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

func (r *Recorder) ObserveSolver(outcome string, duration time.Duration) {
	r.solverCalls.WithLabelValues(outcome).Inc()
	r.solverDuration.Observe(duration.Seconds())
}

func (r *Recorder) ObserveDispatch(backend string, err error) {
	result := "ok"
	if err != nil {
		result = domain.ErrorKind(err)
	}
	r.dispatches.WithLabelValues(backend, result).Inc()
}

func (r *Recorder) ObserveForecastFailure(source string) {
	r.forecastFailures.WithLabelValues(source).Inc()
}

func (r *Recorder) SetTarget(target domain.EffectiveTarget, maxChargePowerDynW float64) {
	r.acChargeDemand.Set(target.ACChargeDemandW)
	r.dcChargeDemand.Set(target.DCChargeDemandW)
	if target.DischargeAllowed {
		r.dischargeAllowed.Set(1)
	} else {
		r.dischargeAllowed.Set(0)
	}
	r.maxChargePower.Set(maxChargePowerDynW)
	r.inverterMode.Reset()
	r.inverterMode.WithLabelValues(target.Mode.String(), string(target.Origin)).Set(1)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ensure interface compliance
var _ port.MetricsRecorder = (*Recorder)(nil)
