package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.SensorUpdateEvent
}

func (r *eventRecorder) handle(evt any) {
	if ev, ok := evt.(domain.SensorUpdateEvent); ok {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.SensorId() == id {
			n++
		}
	}
	return n
}

func TestStatusActorPublishesOnRequest(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()
	es := &eventstream.EventStream{}
	rec := &eventRecorder{}
	es.Subscribe(rec.handle)

	store := service.NewStore("none")
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewStatusActor(store, &fakeTelemetry{err: errors.New("offline")}, es, time.Hour, zap.NewNop())
	})
	pid := as.Root.Spawn(props)

	// first tick on start
	assert.Eventually(t, func() bool { return rec.count(domain.SENSOR_ID_BATTERY_SOC) == 1 }, 2*time.Second, 10*time.Millisecond)

	as.Root.Send(pid, domain.PublishStatusRequest{})
	assert.Eventually(t, func() bool { return rec.count(domain.SENSOR_ID_BATTERY_SOC) == 2 }, 2*time.Second, 10*time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)

	// failed telemetry leaves the store untouched
	assert.Nil(t, store.Snapshot(time.Now()).Telemetry)
	assert.Zero(t, rec.count(domain.SENSOR_ID_DEVICE_TEMPERATURE))
}

func TestStatusActorWithoutTelemetry(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()
	es := &eventstream.EventStream{}
	rec := &eventRecorder{}
	es.Subscribe(rec.handle)

	store := service.NewStore("none")
	as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewStatusActor(store, nil, es, 50*time.Millisecond, zap.NewNop())
	}))

	// ticks repeat at the configured interval
	assert.Eventually(t, func() bool { return rec.count(domain.SENSOR_ID_CYCLE_STATE) >= 3 }, 2*time.Second, 10*time.Millisecond)
}
