package port

import (
	"context"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

// CommandBackend turns a dispatch into device commands.
// Apply must be idempotent: an unchanged command after a success issues no device call.
type CommandBackend interface {
	Name() string
	Apply(ctx context.Context, dispatch domain.Dispatch) error
	Close(ctx context.Context) error
}

// TelemetryProvider is implemented by backends that can read device state back.
type TelemetryProvider interface {
	Status(ctx context.Context) (*domain.DeviceTelemetry, error)
}
