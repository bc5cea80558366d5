package actorutil

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel, zap.FatalLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an override control message to a command.
// Unknown entities return nil without error.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.OverrideCommand, error) {
	switch {
	case cmd.Command == mqtt.COMMAND_SELECT && cmd.DeviceId == domain.SELECT_ID_OVERRIDE_MODE:
		// duration comes from the last duration set
		return &domain.SetOverrideCommand{Mode: cmd.Payload}, nil
	case cmd.Command == mqtt.COMMAND_NUMBER && cmd.DeviceId == domain.INPUT_NUMBER_ID_OVERRIDE_DURATION:
		minutes, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || math.IsNaN(minutes) {
			return nil, &domain.InvalidOverrideError{Field: "duration", Value: cmd.Payload, Reason: "not a number of minutes"}
		}
		m := int(math.Round(minutes))
		if m <= 0 || m >= 24*60 {
			return nil, &domain.InvalidOverrideError{Field: "duration", Value: cmd.Payload, Reason: "must be between 1 and 1439 minutes"}
		}
		return &domain.SetOverrideDurationCommand{Duration: fmt.Sprintf("%02d:%02d", m/60, m%60)}, nil
	case cmd.Command == mqtt.COMMAND_NUMBER && cmd.DeviceId == domain.INPUT_NUMBER_ID_OVERRIDE_POWER:
		power, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || math.IsNaN(power) || math.IsInf(power, 0) {
			return nil, &domain.InvalidOverrideError{Field: "power", Value: cmd.Payload, Reason: "not a number"}
		}
		return &domain.SetOverridePowerCommand{PowerW: int(math.Round(power))}, nil
	case cmd.Command == mqtt.COMMAND_BUTTON && cmd.DeviceId == domain.BUTTON_ID_OVERRIDE_CLEAR:
		return &domain.ClearOverrideCommand{}, nil
	}
	return nil, nil
}
