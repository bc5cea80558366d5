package port

import (
	"context"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

// OverrideController executes manual override commands.
type OverrideController interface {
	Execute(cmd domain.OverrideCommand) (domain.OverrideState, error)
}

// Dispatcher applies the current effective target without a solver call.
type Dispatcher interface {
	Redispatch(ctx context.Context) error
}

type StatusStore interface {
	Snapshot(now time.Time) domain.Status
	SetTelemetry(t *domain.DeviceTelemetry)
}
