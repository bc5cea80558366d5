package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/eosconnect/internal/adapter/actor"
	"github.com/berfenger/eosconnect/internal/adapter/eos"
	"github.com/berfenger/eosconnect/internal/adapter/evcc"
	"github.com/berfenger/eosconnect/internal/adapter/inverter"
	"github.com/berfenger/eosconnect/internal/adapter/metrics"
	"github.com/berfenger/eosconnect/internal/adapter/source"
	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/actor"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"github.com/berfenger/eosconnect/internal/core/scheduler"
	"github.com/berfenger/eosconnect/internal/core/service"
	"github.com/berfenger/eosconnect/internal/server"
	"github.com/berfenger/eosconnect/internal/util/actorutil"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// controlLoop holds the long lived parts of the optimization cycle.
type controlLoop struct {
	store      *service.Store
	controller *service.ModeController
	runner     *service.CycleRunner
	backend    port.CommandBackend
	storage    sunspec.StorageModbusClient
	evccClient *evcc.Client
	recorder   *metrics.Recorder
}

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Using", "config", cfg.Redacted())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()
	logger.Info("main@init: starting eosconnect", zap.String("version", versioninfo.Short()))

	loop, err := newControlLoop(*cfg, logger)
	if err != nil {
		logger.Error("main@init: could not build the control loop", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		os.Exit(1)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, loop.controller, loop.runner,
			statusActorProvider(loop, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("main@init: could not spawn master actor", zap.Error(err))
		os.Exit(1)
	}

	// periodic optimization, each run ends with a status publish
	sched := scheduler.New(func(jobCtx context.Context) error {
		err := loop.runner.RunCycle(jobCtx)
		ctx.Send(pid, domain.PublishStatusRequest{})
		return err
	}, cfg.RefreshInterval(), nil, loop.store, logger.Named("scheduler"))

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go sched.Run(runCtx)

	if loop.evccClient != nil {
		watcher := evcc.NewWatcher(loop.evccClient, cfg.EVCC.PollInterval(), loop.store, sched, func(charging bool) {
			ctx.Send(pid, domain.PublishStatusRequest{})
		}, logger)
		go watcher.Run(runCtx)
	}

	server := server.NewServer(*cfg, ctx, pid, loop.store, loop.recorder.Handler(), logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline())
	defer cancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Warn("main@shutdown: scheduler did not stop in time", zap.Error(err))
	}
	cancelRun()
	if err := loop.backend.Close(shutdownCtx); err != nil {
		logger.Warn("main@shutdown: could not restore the inverter", zap.String("backend", loop.backend.Name()), zap.Error(err))
	}
	if loop.storage != nil {
		if err := loop.storage.Close(); err != nil {
			logger.Warn("main@shutdown: could not close modbus connection", zap.Error(err))
		}
	}

	ctx.Stop(pid)
	as.Shutdown()
}

func newControlLoop(cfg config.Config, logger *zap.Logger) (*controlLoop, error) {
	loop := &controlLoop{
		store:    service.NewStore(string(cfg.Inverter.Type)),
		recorder: metrics.New(),
	}

	// one EVCC client serves the backend and the charging state watcher
	if cfg.EVCC.URL != "" {
		loop.evccClient = evcc.NewClient(cfg.EVCC.URL, cfg.Inverter.RequestTimeout())
	}

	// one modbus connection serves the backend and the battery source
	if cfg.Inverter.Type == config.InverterTypeSunSpecModbus || cfg.Battery.Source == "sunspec" {
		if cfg.Inverter.Modbus.Host == "" {
			return nil, &domain.ConfigError{Key: "inverter.modbus.host", Reason: "is required"}
		}
		client, err := sunspec.CreateStorageIntSFModbusClient(cfg.Inverter.Modbus.Host, cfg.Inverter.Modbus.Port,
			uint8(cfg.Inverter.Modbus.UnitId), cfg.Inverter.Modbus.Timeout(), cfg.Inverter.Modbus.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, err
		}
		loop.storage = client
	}

	backend, err := inverter.NewBackend(cfg, inverter.Dependencies{
		EVCC:    loop.evccClient,
		Storage: loop.storage,
	}, logger)
	if err != nil {
		return nil, err
	}
	loop.backend = backend

	sources, err := source.NewSources(cfg, loop.storage, logger)
	if err != nil {
		return nil, err
	}

	loop.controller = &service.ModeController{
		Store:              loop.store,
		MaxGridChargeRateW: cfg.Inverter.MaxGridChargeRate,
		MaxPVChargeRateW:   cfg.Inverter.MaxPVChargeRate,
		Logger:             logger.Named("mode_controller"),
	}

	battery := domain.StorageParams{
		CapacityWh:          cfg.Battery.CapacityWh,
		ChargeEfficiency:    cfg.Battery.ChargeEfficiency,
		DischargeEfficiency: cfg.Battery.DischargeEfficiency,
		MaxChargePowerW:     cfg.Battery.MaxChargePowerW,
		MinSOCPercent:       cfg.Battery.MinSOCPercent,
		MaxSOCPercent:       cfg.Battery.MaxSOCPercent,
	}

	loop.runner = &service.CycleRunner{
		Store: loop.store,
		Collector: &service.Collector{
			Load:     sources.Load,
			PV:       sources.PV,
			Price:    sources.Price,
			SOC:      sources.SOC,
			Location: cfg.Location,
			Metrics:  loop.recorder,
			Logger:   logger.Named("collector"),
		},
		Builder: &service.RequestBuilder{
			Battery:            battery,
			BatteryPriceEuroWh: cfg.Battery.PriceEuroPerWh,
			Inverter:           domain.InverterParams{MaxPowerWh: cfg.Inverter.MaxPowerWh},
			Location:           cfg.Location,
		},
		Optimizer: eos.NewClient(cfg.EOS.BaseURL(), logger),
		Interpreter: &service.Interpreter{
			MaxGridChargeRateW: cfg.Inverter.MaxGridChargeRate,
			MaxPVChargeRateW:   cfg.Inverter.MaxPVChargeRate,
			MaxResponseAge:     cfg.EOS.ResponseMaxAge(),
			Location:           cfg.Location,
			Logger:             logger.Named("interpreter"),
		},
		Controller: loop.controller,
		Curve:      service.NewChargingCurve(cfg.Battery.ChargingCurve.FullPowerSOC, cfg.Battery.ChargingCurve.FloorW),
		Backend:    backend,
		Metrics:    loop.recorder,
		Battery: service.BatteryLimits{
			CapacityWh:          cfg.Battery.CapacityWh,
			DischargeEfficiency: cfg.Battery.DischargeEfficiency,
			MinSOCPercent:       cfg.Battery.MinSOCPercent,
			MaxChargePowerW:     cfg.Battery.MaxChargePowerW,
			CurveEnabled:        cfg.Battery.ChargingCurve.Enabled,
		},
		SolverTimeout: cfg.EOS.Deadline(),
		Logger:        logger.Named("cycle"),
	}

	logger.Info("main@init: control loop ready", zap.String("backend", backend.Name()),
		zap.Duration("refresh", cfg.RefreshInterval()), zap.String("eos", cfg.EOS.BaseURL()))
	return loop, nil
}

func statusActorProvider(loop *controlLoop, logger *zap.Logger) actor.StatusActorProvider {
	// telemetry is optional, only some backends read the device back
	var telemetry port.TelemetryProvider
	if provider, ok := loop.backend.(port.TelemetryProvider); ok {
		telemetry = provider
	}
	return func(es *eventstream.EventStream) *actor.StatusActor {
		return actor.NewStatusActor(loop.store, telemetry, es, actor.STATUS_PUBLISH_INTERVAL, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}
