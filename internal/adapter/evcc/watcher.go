package evcc

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/eosconnect/internal/core/port"

	"go.uber.org/zap"
)

type ChargingStateRecorder interface {
	// SetEVCharging stores the flag and reports whether it changed.
	SetEVCharging(charging bool) bool
}

// Watcher polls the EVCC loadpoint charging flag and starts an out of band
// cycle when it flips.
type Watcher struct {
	client   *Client
	interval time.Duration
	recorder ChargingStateRecorder
	trigger  port.CycleTrigger
	onChange func(charging bool)
	logger   *zap.Logger
}

func NewWatcher(client *Client, interval time.Duration, recorder ChargingStateRecorder, trigger port.CycleTrigger,
	onChange func(charging bool), logger *zap.Logger) *Watcher {
	return &Watcher{
		client:   client,
		interval: interval,
		recorder: recorder,
		trigger:  trigger,
		onChange: onChange,
		logger:   logger.Named("evcc"),
	}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("evcc@poll: could not read charging state", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll reads the charging state once.
func (w *Watcher) Poll(ctx context.Context) error {
	state, err := w.client.State(ctx)
	if errors.Is(err, ErrNoLoadpoint) {
		w.logger.Debug("evcc@poll: no loadpoint charging state")
		return nil
	}
	if err != nil {
		return err
	}

	if !w.recorder.SetEVCharging(state.Charging) {
		return nil
	}
	w.logger.Info("evcc@poll: charging state changed", zap.Bool("charging", state.Charging))
	if w.trigger != nil {
		w.trigger.Trigger()
	}
	if w.onChange != nil {
		w.onChange(state.Charging)
	}
	return nil
}
