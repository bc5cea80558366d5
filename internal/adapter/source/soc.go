package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/eosconnect/internal/core/port"
	"github.com/berfenger/eosconnect/pkg/sunspec"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	SOC_REQUEST_TIMEOUT = 6 * time.Second
	MAX_BODY_BYTES      = 1 << 20
)

type FixedSOC float64

func (s FixedSOC) SOC(_ context.Context) (float64, error) {
	return float64(s), nil
}

// httpSOC reads a state of charge from a home automation REST API.
type httpSOC struct {
	name       string
	request    func(ctx context.Context) (*http.Request, error)
	parse      func(body []byte) (float64, error)
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

func (s *httpSOC) fetch(ctx context.Context) (float64, error) {
	req, err := s.request(ctx)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_BODY_BYTES))
	if err != nil {
		return 0, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%s: status %d", s.name, resp.StatusCode)
	default:
		return 0, backoff.Permanent(fmt.Errorf("%s: status %d", s.name, resp.StatusCode))
	}

	soc, err := s.parse(body)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("%s: %w", s.name, err))
	}
	return soc, nil
}

// SOC retries transient failures until the context expires.
func (s *httpSOC) SOC(ctx context.Context) (float64, error) {
	soc, err := backoff.RetryWithData(func() (float64, error) {
		return s.fetch(ctx)
	}, backoff.WithContext(s.newBackOff(), ctx))
	if err != nil {
		return 0, err
	}
	s.logger.Debug("soc@fetch: state of charge read", zap.String("source", s.name), zap.Float64("soc", soc))
	return min(100, max(0, soc)), nil
}

func defaultBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(20*time.Second),
	)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

type stateDocument struct {
	State any `json:"state"`
}

// parseStateValue takes the leading number of a state such as "90", "90 %" or 0.9.
func parseStateValue(body []byte) (float64, error) {
	var doc stateDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("unparsable state: %w", err)
	}
	switch state := doc.State.(type) {
	case float64:
		return state, nil
	case string:
		fields := strings.Fields(state)
		if len(fields) == 0 {
			return 0, errors.New("empty state")
		}
		value, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, fmt.Errorf("state %q is not a number", state)
		}
		return value, nil
	}
	return 0, errors.New("missing state")
}

func NewHomeAssistantSOC(url, sensor, token string, logger *zap.Logger) port.SOCSource {
	endpoint := fmt.Sprintf("%s/api/states/%s", strings.TrimSuffix(url, "/"), sensor)
	return &httpSOC{
		name: "homeassistant",
		request: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		},
		parse: func(body []byte) (float64, error) {
			soc, err := parseStateValue(body)
			if err != nil {
				return 0, err
			}
			return roundTo(soc, 1), nil
		},
		httpClient: &http.Client{Timeout: SOC_REQUEST_TIMEOUT},
		newBackOff: defaultBackOff,
		logger:     logger.Named("soc"),
	}
}

// NewOpenHABSOC reads an item that reports either a fraction (0..1) or a percentage.
func NewOpenHABSOC(url, item string, logger *zap.Logger) port.SOCSource {
	endpoint := fmt.Sprintf("%s/rest/items/%s", strings.TrimSuffix(url, "/"), item)
	return &httpSOC{
		name: "openhab",
		request: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		},
		parse: func(body []byte) (float64, error) {
			value, err := parseStateValue(body)
			if err != nil {
				return 0, err
			}
			if value <= 1 {
				value *= 100
			}
			return roundTo(value, 0), nil
		},
		httpClient: &http.Client{Timeout: SOC_REQUEST_TIMEOUT},
		newBackOff: defaultBackOff,
		logger:     logger.Named("soc"),
	}
}

// SunSpecSOC reads the storage block through the shared Modbus client.
type SunSpecSOC struct {
	Client sunspec.StorageModbusClient
}

func (s SunSpecSOC) SOC(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	state, err := s.Client.GetStorageState()
	if err != nil {
		return 0, fmt.Errorf("sunspec storage state: %w", err)
	}
	return state.StateOfCharge, nil
}

// ensure interface compliance
var _ port.SOCSource = FixedSOC(0)
var _ port.SOCSource = (*httpSOC)(nil)
var _ port.SOCSource = SunSpecSOC{}
