package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	coreactor "github.com/berfenger/eosconnect/internal/core/actor"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/service"
	"github.com/berfenger/eosconnect/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingDispatcher struct {
	calls atomic.Int32
}

func (d *countingDispatcher) Redispatch(_ context.Context) error {
	d.calls.Add(1)
	return nil
}

type serverFixture struct {
	handler    http.Handler
	cfg        config.Config
	store      *service.Store
	dispatcher *countingDispatcher
}

func newServerFixture(t *testing.T) *serverFixture {
	cfg := util.LoadTestConfig()
	cfg.MQTT.Enable = false
	logger := zap.NewNop()

	as := actor.NewActorSystem()
	store := service.NewStore("none")
	dispatcher := &countingDispatcher{}
	controller := &service.ModeController{
		Store:              store,
		MaxGridChargeRateW: cfg.Inverter.MaxGridChargeRate,
		MaxPVChargeRateW:   cfg.Inverter.MaxPVChargeRate,
		Logger:             logger,
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewMasterOfPuppetsActor(cfg, controller, dispatcher, func(es *eventstream.EventStream) *coreactor.StatusActor {
			return coreactor.NewStatusActor(store, nil, es, time.Hour, logger)
		}, nil, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})

	s := New(cfg, as.Root, pid, store, http.NotFoundHandler(), logger)
	return &serverFixture{handler: s.RegisterRoutes(), cfg: cfg, store: store, dispatcher: dispatcher}
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())
}

func TestOptimizeDocumentsBeforeFirstCycle(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/json/optimize_request.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	rec = f.do(http.MethodGet, "/json/optimize_response.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, []any{}, out["ac_charge"])
	assert.Equal(t, []any{}, out["discharge_allowed"])
	assert.Nil(t, out["eautocharge_hours_float"])
	assert.Equal(t, 0.0, out["washingstart"])
	assert.NotEmpty(t, out["timestamp"])
}

func TestCurrentControls(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/json/current_controls.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	states, ok := out["current_states"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, states, "current_ac_charge_demand")
	assert.Contains(t, states, "inverter_mode")
	assert.Equal(t, false, states["evcc_charging_state"])
	assert.Contains(t, out, "battery_soc")
	battery := out["battery"].(map[string]any)
	assert.Contains(t, battery, "max_charge_power_dyn")
}

func TestSetOverride(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/controls/override", `{"mode":"charge_from_grid","duration":"02:00","grid_charge_power":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["live"])
	override := out["override"].(map[string]any)
	assert.Equal(t, "charge_from_grid", override["mode"])
	assert.Equal(t, 3000.0, override["target_grid_charge_power_w"])

	assert.Eventually(t, func() bool { return f.dispatcher.calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)

	status := f.store.Snapshot(time.Now())
	assert.True(t, status.Override.LiveAt(time.Now()))
	assert.Equal(t, 2*time.Hour, status.OverrideDuration)

	rec = f.do(http.MethodPost, "/controls/override/power", `{"power_w":1200}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1200.0, f.store.Snapshot(time.Now()).Override.TargetGridChargePowerW)

	// an empty body extends by one hour
	rec = f.do(http.MethodPost, "/controls/override/duration", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.WithinDuration(t, time.Now().Add(time.Hour), f.store.Snapshot(time.Now()).Override.EndTime, 5*time.Second)

	rec = f.do(http.MethodDelete, "/controls/override", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.store.Snapshot(time.Now()).Override.Active)
	assert.Equal(t, false, decode(t, rec)["live"])
}

func TestSetOverrideValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/controls/override", `{"duration":"01:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_REQUIRED", errs[0].(map[string]any)["code"])
	assert.Equal(t, "mode", errs[0].(map[string]any)["field"])

	rec = f.do(http.MethodPost, "/controls/override", `{"mode":"idle","duration":"25:99"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_DATETIME", decode(t, rec)["errors"].([]any)[0].(map[string]any)["code"])

	rec = f.do(http.MethodPost, "/controls/override/power", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, f.dispatcher.calls.Load())
}

func TestSetOverrideRejectedByController(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/controls/override", `{"mode":"boost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].([]any)
	assert.Equal(t, "ERR_INVALID_OVERRIDE", errs[0].(map[string]any)["code"])
	assert.Equal(t, "mode", errs[0].(map[string]any)["field"])

	rec = f.do(http.MethodPost, "/controls/override", `{"mode":"idle","duration":"00:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.False(t, f.store.Snapshot(time.Now()).Override.Active)
}

func TestOverridePowerOutOfRangeIsClamped(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/controls/override", `{"mode":"charge_from_grid","duration":"01:00","grid_charge_power":-1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	override := decode(t, rec)["override"].(map[string]any)
	assert.Equal(t, 0.0, override["target_grid_charge_power_w"])
	assert.Equal(t, 0.0, f.store.Snapshot(time.Now()).Override.TargetGridChargePowerW)

	rec = f.do(http.MethodPost, "/controls/override/power", `{"power_w":-250}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.0, f.store.Snapshot(time.Now()).Override.TargetGridChargePowerW)

	rec = f.do(http.MethodPost, "/controls/override/power", `{"power_w":999999}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, f.cfg.Inverter.MaxGridChargeRate, f.store.Snapshot(time.Now()).Override.TargetGridChargePowerW)
}

func TestSingleFieldUpdateWithoutOverride(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/controls/override/power", `{"power_w":500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["live"])

	rec = f.do(http.MethodPost, "/controls/override/duration", `{"duration":"03:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := f.store.Snapshot(time.Now())
	assert.False(t, status.Override.Active)
	assert.Equal(t, 500.0, status.Override.TargetGridChargePowerW)
	assert.Equal(t, 3*time.Hour, status.OverrideDuration)
}

func TestStatusJSON(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/json/status.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "none", out["backend"])
	assert.Contains(t, out, "override")
	assert.NotContains(t, out, "telemetry")
}
