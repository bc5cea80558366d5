package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type OverrideRequest struct {
	Mode string `json:"mode" validate:"required"`
	// Duration is HH:MM, empty keeps the last duration
	Duration string `json:"duration" validate:"omitempty,datetime=15:04"`
	// GridChargePower is in kW, clamped to the configured grid charge rate
	GridChargePower *float64 `json:"grid_charge_power"`
}

type OverrideDurationRequest struct {
	Duration string `json:"duration" default:"01:00" validate:"required,datetime=15:04"`
}

type OverridePowerRequest struct {
	PowerW *int `json:"power_w" validate:"required"`
}

type overrideResponse struct {
	Override domain.OverrideState `json:"override"`
	Live     bool                 `json:"live"`
}

type currentStates struct {
	ACChargeDemand   float64 `json:"current_ac_charge_demand"`
	DCChargeDemand   float64 `json:"current_dc_charge_demand"`
	DischargeAllowed bool    `json:"current_discharge_allowed"`
	InverterMode     string  `json:"inverter_mode"`
	TargetOrigin     string  `json:"target_origin"`
	EVCCCharging     bool    `json:"evcc_charging_state"`
}

type currentControls struct {
	CurrentStates currentStates        `json:"current_states"`
	Override      domain.OverrideState `json:"override"`
	Battery       domain.BatteryState  `json:"battery"`
	BatterySOC    float64              `json:"battery_soc"`
	Cycle         domain.CyclePointer  `json:"cycle"`
	Timestamp     string               `json:"timestamp"`
}

type emptyOptimizeResponse struct {
	ACCharge              []float64      `json:"ac_charge"`
	DCCharge              []float64      `json:"dc_charge"`
	DischargeAllowed      []bool         `json:"discharge_allowed"`
	EAutoChargeHoursFloat *float64       `json:"eautocharge_hours_float"`
	Result                map[string]any `json:"result"`
	EAutoObj              map[string]any `json:"eauto_obj"`
	StartSolution         []float64      `json:"start_solution"`
	WashingStart          int            `json:"washingstart"`
	Timestamp             string         `json:"timestamp"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	e.GET("/json/current_controls.json", s.CurrentControlsHandler)
	e.GET("/json/optimize_request.json", s.OptimizeRequestHandler)
	e.GET("/json/optimize_response.json", s.OptimizeResponseHandler)
	e.GET("/json/status.json", s.StatusHandler)

	e.POST("/controls/override", s.SetOverrideHandler)
	e.POST("/controls/override/duration", s.SetOverrideDurationHandler)
	e.POST("/controls/override/power", s.SetOverridePowerHandler)
	e.DELETE("/controls/override", s.ClearOverrideHandler)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, ACTOR_REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) CurrentControlsHandler(c echo.Context) error {
	now := s.now()
	status := s.store.Snapshot(now)
	return c.JSON(http.StatusOK, currentControls{
		CurrentStates: currentStates{
			ACChargeDemand:   status.Target.ACChargeDemandW,
			DCChargeDemand:   status.Target.DCChargeDemandW,
			DischargeAllowed: status.Target.DischargeAllowed,
			InverterMode:     status.Target.Mode.String(),
			TargetOrigin:     string(status.Target.Origin),
			EVCCCharging:     status.EVCharging,
		},
		Override:   status.Override,
		Battery:    status.Battery,
		BatterySOC: status.Battery.SOCPercent,
		Cycle:      status.Cycle,
		Timestamp:  now.Format(time.RFC3339),
	})
}

func (s *Server) OptimizeRequestHandler(c echo.Context) error {
	req := s.store.Snapshot(s.now()).LastRequest
	if req == nil {
		return c.JSONBlob(http.StatusOK, []byte("{}"))
	}
	body, err := json.Marshal(req)
	if err != nil {
		s.logger.Error("http@optimize_request: could not encode request", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Errors: []ValidationError{{
			Code: "ERR_ENCODING", Message: err.Error(),
		}}})
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (s *Server) OptimizeResponseHandler(c echo.Context) error {
	now := s.now()
	resp := s.store.Snapshot(now).LastResponse
	switch {
	case resp == nil:
		return c.JSON(http.StatusOK, emptyOptimizeResponse{
			ACCharge:         []float64{},
			DCCharge:         []float64{},
			DischargeAllowed: []bool{},
			Result:           map[string]any{},
			EAutoObj:         map[string]any{},
			StartSolution:    []float64{},
			Timestamp:        now.Format(time.RFC3339),
		})
	case len(resp.Raw) > 0:
		return c.JSONBlob(http.StatusOK, resp.Raw)
	default:
		return c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) StatusHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Snapshot(s.now()))
}

func (s *Server) SetOverrideHandler(c echo.Context) error {
	req := new(OverrideRequest)
	if errs := ReadAndValidateRequest(c, req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Errors: errs})
	}
	cmd := &domain.SetOverrideCommand{
		Mode:     req.Mode,
		Duration: req.Duration,
	}
	if req.GridChargePower != nil {
		cmd.GridChargePowerKW = *req.GridChargePower
		cmd.GridChargePowerGiven = true
	}
	return s.executeOverride(c, cmd)
}

func (s *Server) SetOverrideDurationHandler(c echo.Context) error {
	req := new(OverrideDurationRequest)
	if errs := ReadAndValidateRequest(c, req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Errors: errs})
	}
	return s.executeOverride(c, &domain.SetOverrideDurationCommand{Duration: req.Duration})
}

func (s *Server) SetOverridePowerHandler(c echo.Context) error {
	req := new(OverridePowerRequest)
	if errs := ReadAndValidateRequest(c, req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Errors: errs})
	}
	return s.executeOverride(c, &domain.SetOverridePowerCommand{PowerW: *req.PowerW})
}

func (s *Server) ClearOverrideHandler(c echo.Context) error {
	return s.executeOverride(c, &domain.ClearOverrideCommand{})
}

// executeOverride hands the command to the master actor, which owns the
// override lifecycle, and maps its answer to an HTTP response.
func (s *Server) executeOverride(c echo.Context, cmd domain.OverrideCommand) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, cmd, ACTOR_REQUEST_TIMEOUT).Result()
	if err != nil {
		s.logger.Warn("http@override: no answer from master", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Errors: []ValidationError{{
			Code: "ERR_UNAVAILABLE", Message: err.Error(),
		}}})
	}
	resp, ok := res.(domain.OverrideCommandResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Errors: []ValidationError{{
			Code: "ERR_UNKNOWN", Message: "unexpected answer from master",
		}}})
	}
	if resp.HasResponseError() {
		var invalid *domain.InvalidOverrideError
		if errors.As(resp.GetResponseError(), &invalid) {
			return c.JSON(http.StatusBadRequest, errorResponse{Errors: []ValidationError{{
				Code:    "ERR_INVALID_OVERRIDE",
				Field:   invalid.Field,
				Message: invalid.Error(),
			}}})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Errors: []ValidationError{{
			Code: "ERR_UNKNOWN", Message: resp.GetResponseError().Error(),
		}}})
	}
	return c.JSON(http.StatusOK, overrideResponse{
		Override: resp.Override,
		Live:     resp.Override.LiveAt(time.Now()),
	})
}
