package port

import (
	"context"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

type Optimizer interface {
	// Variant returns the negotiated request schema, probing the solver if needed.
	Variant(ctx context.Context) (domain.SchemaVariant, error)
	Submit(ctx context.Context, request domain.OptimizationRequest, deadline time.Duration) (*domain.OptimizationResponse, error)
}
