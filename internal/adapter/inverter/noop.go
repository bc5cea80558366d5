package inverter

import (
	"context"
	"sync"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"

	"go.uber.org/zap"
)

const BACKEND_NONE = "none"

// NoopBackend keeps the last dispatch for display and never talks to a device.
type NoopBackend struct {
	mu     sync.Mutex
	last   *domain.Dispatch
	logger *zap.Logger
}

func NewNoopBackend(logger *zap.Logger) *NoopBackend {
	return &NoopBackend{logger: logger.Named(BACKEND_NONE)}
}

func (b *NoopBackend) Name() string {
	return BACKEND_NONE
}

func (b *NoopBackend) Apply(ctx context.Context, d domain.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &d
	b.logger.Debug("none@apply: dispatch recorded", zap.Stringer("mode", d.Target.Mode),
		zap.Float64("ac_w", d.Target.ACChargeDemandW), zap.Float64("dc_w", d.Target.DCChargeDemandW))
	return nil
}

func (b *NoopBackend) Close(ctx context.Context) error {
	return nil
}

func (b *NoopBackend) LastDispatch() (domain.Dispatch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return domain.Dispatch{}, false
	}
	return *b.last, true
}

// ensure interface compliance
var _ port.CommandBackend = (*NoopBackend)(nil)
