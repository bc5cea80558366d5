package actor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/eosconnect/internal/adapter/actor"
	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	. "github.com/berfenger/eosconnect/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const REDISPATCH_TIMEOUT = 30 * time.Second

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type StatusActorProvider func(*eventstream.EventStream) *StatusActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	mqttActor           *actor.PID
	statusActor         *actor.PID
	controller          port.OverrideController
	dispatcher          port.Dispatcher
	mqttActorProvider   MQTTActorProvider
	statusActorProvider StatusActorProvider
	logger              *zap.Logger
}

type healthCheckResult struct {
	expected       map[string]bool
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

type redispatchDone struct {
	Error error
}

func NewMasterOfPuppetsActor(config config.Config, controller port.OverrideController, dispatcher port.Dispatcher,
	statusActorProvider StatusActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		controller:          controller,
		dispatcher:          dispatcher,
		statusActorProvider: statusActorProvider,
		mqttActorProvider:   mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{expected: map[string]bool{}}

		// start Status child
		statusActorPID, err := state.startStatusActor(ctx)
		if err != nil {
			panic(err)
		}
		state.statusActor = statusActorPID
		state.currentHealthCheck.expected[domain.ACTOR_ID_STATUS] = true

		// MQTT is optional
		if state.config.MQTT.Enable && state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
			state.currentHealthCheck.expected[domain.ACTOR_ID_MQTT] = true

			// start HA Discovery
			if state.config.MQTT.HADiscoveryEnable {
				_, err := state.startHADiscoveryActor(ctx)
				if err != nil {
					panic(err)
				}
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id := range state.currentHealthCheck.expected {
			id := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.child(id), domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// map the MQTT control message to an override command
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
		if err != nil {
			state.logger.Warn("master@command: invalid command", zap.String("entity", msg.Command.DeviceId), zap.Error(err))
			return
		}
		if cmd != nil {
			state.executeOverride(ctx, cmd)
		}
	case domain.OverrideCommand:
		state.executeOverride(ctx, msg)
	case redispatchDone:
		if msg.Error != nil {
			state.logger.Error("master@redispatch: could not apply override", zap.String("kind", domain.ErrorKind(msg.Error)), zap.Error(msg.Error))
		}
		ctx.Send(state.statusActor, domain.PublishStatusRequest{})
	case domain.PublishStatusRequest:
		ctx.Send(state.statusActor, msg)
	case *actor.Terminated:
		state.logger.Warn("master@default child terminated", zap.String("who", msg.Who.Id))
		if msg.Who.Equal(state.statusActor) {
			panic(errors.New("status actor terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		ctx.CancelReceiveTimeout()
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)
			ctx.CancelReceiveTimeout()

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// executeOverride applies the command, answers the requester and re-applies
// the effective target in the background.
func (state *MasterOfPuppetsActor) executeOverride(ctx actor.Context, cmd domain.OverrideCommand) {
	override, err := state.controller.Execute(cmd)
	ForRequest(cmd).Respond(ctx, domain.OverrideCommandResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
		Override: override,
	})
	if err != nil {
		state.logger.Warn("master@override: command rejected", zap.String("command", fmt.Sprintf("%T", cmd)), zap.Error(err))
		return
	}
	state.logger.Info("master@override: command applied", zap.String("command", fmt.Sprintf("%T", cmd)),
		zap.Stringer("mode", override.Mode), zap.Bool("active", override.Active))
	ctx.Send(state.statusActor, domain.PublishStatusRequest{})

	if state.dispatcher == nil {
		return
	}
	dispatcher := state.dispatcher
	NewBackgroundTask(ctx, func() (*redispatchDone, error) {
		reqCtx, cancel := context.WithTimeout(context.Background(), REDISPATCH_TIMEOUT)
		defer cancel()
		return &redispatchDone{Error: dispatcher.Redispatch(reqCtx)}, nil
	}).WithTimeout(REDISPATCH_TIMEOUT + time.Second).Recover(func(err error) redispatchDone {
		return redispatchDone{Error: err}
	}).PipeTo(ctx.Self())
}

func (state *MasterOfPuppetsActor) child(id string) *actor.PID {
	switch id {
	case domain.ACTOR_ID_MQTT:
		return state.mqttActor
	case domain.ACTOR_ID_STATUS:
		return state.statusActor
	}
	return nil
}

func (state *MasterOfPuppetsActor) startStatusActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	statusProps := actor.PropsFromProducer(func() actor.Actor {
		return state.statusActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	statusActorPID, err := ctx.SpawnNamed(statusProps, domain.ACTOR_ID_STATUS)
	if err != nil {
		return nil, err
	}

	return statusActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.statusActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.healthy = map[string]bool{}
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for id := range state.expected {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
