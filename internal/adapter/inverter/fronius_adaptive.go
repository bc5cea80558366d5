package inverter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"

	"go.uber.org/zap"
)

const (
	BACKEND_FRONIUS_ADAPTIVE = "fronius_adaptive"
	READABLE_ENDPOINT        = "components/inverter/readable"
)

var readableTemperatureChannels = map[string]string{
	"DEVICE_TEMPERATURE_AMBIENTMEAN_01_F32": "ambient",
	"MODULE_TEMPERATURE_MEAN_01_F32":        "module_1",
	"MODULE_TEMPERATURE_MEAN_03_F32":        "module_3",
	"MODULE_TEMPERATURE_MEAN_04_F32":        "module_4",
}

var readableFanChannels = map[string]string{
	"FANCONTROL_PERCENT_01_F32": "fan_1",
	"FANCONTROL_PERCENT_02_F32": "fan_2",
}

// FroniusAdaptiveBackend detects the firmware API layout and digest algorithm on first use.
// The device's own time of use rules are saved before the first write and restored on Close.
type FroniusAdaptiveBackend struct {
	froniusBackend
	probed bool
	backup json.RawMessage
}

func NewFroniusAdaptiveBackend(cfg config.InverterConfig, logger *zap.Logger) *FroniusAdaptiveBackend {
	logger = logger.Named(BACKEND_FRONIUS_ADAPTIVE)
	return &FroniusAdaptiveBackend{
		froniusBackend: froniusBackend{
			session:            newFroniusSession(BACKEND_FRONIUS_ADAPTIVE, cfg, false, logger),
			maxGridChargeRateW: cfg.MaxGridChargeRate,
			logger:             logger,
		},
	}
}

func (b *FroniusAdaptiveBackend) Name() string {
	return BACKEND_FRONIUS_ADAPTIVE
}

// probe picks the API base by which time of use path asks for authentication.
func (b *FroniusAdaptiveBackend) probe(ctx context.Context) error {
	if b.probed {
		return nil
	}

	var lastErr error
	reachable := false
	for _, base := range []string{"/api/", "/"} {
		resp, err := b.session.send(ctx, http.MethodGet, base+TIMEOFUSE_ENDPOINT, nil, "")
		if err != nil {
			lastErr = err
			continue
		}
		reachable = true
		if resp.status == http.StatusUnauthorized {
			b.session.apiBase = base
			b.probed = true
			b.logger.Info("fronius@probe: detected API base", zap.String("base", base))
			return nil
		}
	}
	if !reachable {
		return lastErr
	}

	b.session.apiBase = "/api/"
	b.probed = true
	b.logger.Warn("fronius@probe: could not detect firmware API, defaulting to /api/")
	return nil
}

func (b *FroniusAdaptiveBackend) Apply(ctx context.Context, d domain.Dispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.probe(ctx); err != nil {
		return err
	}
	if b.backup == nil {
		backup, err := b.session.readTimeOfUse(ctx)
		if err != nil {
			return fmt.Errorf("backup time of use rules: %w", err)
		}
		b.backup = backup
		b.logger.Info("fronius@apply: device time of use rules backed up", zap.ByteString("rules", backup))
	}
	return b.write(ctx, d)
}

// Close restores the rules found on the device before the first write.
func (b *FroniusAdaptiveBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.backup == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]json.RawMessage{"timeofuse": b.backup})
	if err != nil {
		return err
	}
	if err := b.session.writeTimeOfUse(ctx, payload); err != nil {
		b.logger.Error("fronius@close: could not restore time of use rules", zap.Error(err))
		return err
	}
	b.logger.Info("fronius@close: time of use rules restored")
	b.backup = nil
	b.lastPayload = nil
	return nil
}

func (b *FroniusAdaptiveBackend) Status(ctx context.Context) (*domain.DeviceTelemetry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.probe(ctx); err != nil {
		return nil, err
	}

	telemetry := &domain.DeviceTelemetry{
		Backend:      BACKEND_FRONIUS_ADAPTIVE,
		Temperatures: map[string]float64{},
		FanPercent:   map[string]float64{},
		ReadAt:       time.Now(),
	}

	resp, err := b.session.request(ctx, http.MethodGet, READABLE_ENDPOINT, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusOK {
		var readable struct {
			Body struct {
				Data map[string]struct {
					Channels map[string]any `json:"channels"`
				} `json:"Data"`
			} `json:"Body"`
		}
		if err := json.Unmarshal(resp.body, &readable); err != nil {
			return nil, &domain.BackendRejectedError{Backend: BACKEND_FRONIUS_ADAPTIVE,
				Reason: fmt.Sprintf("unparsable readable data: %v", err)}
		}
		channels := readable.Body.Data["0"].Channels
		for channel, name := range readableTemperatureChannels {
			if v, ok := channels[channel].(float64); ok {
				telemetry.Temperatures[name] = math.Round(v*100) / 100
			}
		}
		for channel, name := range readableFanChannels {
			if v, ok := channels[channel].(float64); ok {
				telemetry.FanPercent[name] = math.Round(v*100) / 100
			}
		}
	} else {
		b.logger.Debug("fronius@status: inverter monitoring not available", zap.Int("status", resp.status))
	}

	soc, err := b.session.storageSOC(ctx)
	if err != nil {
		b.logger.Debug("fronius@status: storage data not available", zap.Error(err))
	} else {
		telemetry.SOCPercent = soc
	}
	return telemetry, nil
}

// ensure interface compliance
var _ port.CommandBackend = (*FroniusAdaptiveBackend)(nil)
var _ port.TelemetryProvider = (*FroniusAdaptiveBackend)(nil)
