package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/events"
	"github.com/berfenger/eosconnect/internal/core/port"
	. "github.com/berfenger/eosconnect/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	STATUS_PUBLISH_INTERVAL = 30 * time.Second
	TELEMETRY_TIMEOUT       = 10 * time.Second
)

// StatusActor publishes the control loop state on the event stream and keeps
// the device telemetry in the store fresh.
type StatusActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler
	cancelFn  scheduler.CancelFunc

	store             port.StatusStore
	telemetry         port.TelemetryProvider
	eventStream       *eventstream.EventStream
	interval          time.Duration
	telemetryInFlight bool

	logger *zap.Logger
}

type statusTick struct {
}

func NewStatusActor(store port.StatusStore, telemetry port.TelemetryProvider, eventStream *eventstream.EventStream,
	interval time.Duration, logger *zap.Logger) *StatusActor {
	if interval <= 0 {
		interval = STATUS_PUBLISH_INTERVAL
	}
	act := &StatusActor{
		behavior:    actor.NewBehavior(),
		store:       store,
		telemetry:   telemetry,
		eventStream: eventStream,
		interval:    interval,
		logger:      ActorLogger(domain.ACTOR_ID_STATUS, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *StatusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *StatusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("status@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), statusTick{})
	case *actor.Stopping, *actor.Restarting:
		if state.cancelFn != nil {
			state.cancelFn()
			state.cancelFn = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("status@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STATUS,
			Healthy: true,
			State:   "idle",
		})
	case statusTick:
		state.logger.Debug("status@default tick")
		state.requestTelemetry(ctx)
		state.publish()
		// schedule next tick
		state.cancelFn = state.scheduler.RequestOnce(state.interval, ctx.Self(), statusTick{})
	case domain.PublishStatusRequest:
		state.logger.Debug("status@default PublishStatusRequest")
		state.publish()
	case domain.GetTelemetryResponse:
		state.telemetryInFlight = false
		if msg.HasResponseError() {
			state.logger.Warn("status@telemetry: could not read device status", zap.Error(msg.GetResponseError()))
			return
		}
		state.store.SetTelemetry(msg.Telemetry)
		for _, ev := range events.TelemetryToUpdateEvents(msg.Telemetry) {
			state.eventStream.Publish(ev)
		}
	default:
		state.logger.Debug("status@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *StatusActor) publish() {
	status := state.store.Snapshot(time.Now())
	for _, ev := range events.StatusToUpdateEvents(status) {
		state.eventStream.Publish(ev)
	}
}

// requestTelemetry reads the backend status off the actor goroutine, one read at a time.
func (state *StatusActor) requestTelemetry(ctx actor.Context) {
	if state.telemetry == nil || state.telemetryInFlight {
		return
	}
	state.telemetryInFlight = true
	provider := state.telemetry
	NewBackgroundTask(ctx, func() (*domain.GetTelemetryResponse, error) {
		reqCtx, cancel := context.WithTimeout(context.Background(), TELEMETRY_TIMEOUT)
		defer cancel()
		telemetry, err := provider.Status(reqCtx)
		if err != nil {
			return nil, err
		}
		return &domain.GetTelemetryResponse{Telemetry: telemetry}, nil
	}).WithTimeout(TELEMETRY_TIMEOUT + time.Second).Recover(func(err error) domain.GetTelemetryResponse {
		return domain.GetTelemetryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	}).PipeTo(ctx.Self())
}
