package port

import (
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

type MetricsRecorder interface {
	ObserveCycle(state domain.CycleState, duration time.Duration)
	ObserveSolver(outcome string, duration time.Duration)
	ObserveDispatch(backend string, err error)
	ObserveForecastFailure(source string)
	SetTarget(target domain.EffectiveTarget, maxChargePowerDynW float64)
}

// CycleTrigger requests an out-of-band control cycle.
type CycleTrigger interface {
	Trigger()
}
