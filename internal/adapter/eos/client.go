package eos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/core/port"
	"go.uber.org/zap"
)

const (
	PROBE_TIMEOUT = 10 * time.Second
	maxBodySize   = 16 << 20
)

// Client talks to the EOS optimization server. It negotiates the request
// schema once per session and re-probes after a schema rejection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	variant domain.SchemaVariant
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// deadlines come from the request contexts
		httpClient: &http.Client{},
		logger:     logger,
		now:        time.Now,
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Variant returns the cached schema variant, probing the server when unknown.
func (c *Client) Variant(ctx context.Context) (domain.SchemaVariant, error) {
	c.mu.Lock()
	variant := c.variant
	c.mu.Unlock()
	if variant != domain.SchemaUnknown {
		return variant, nil
	}
	return c.probe(ctx)
}

func (c *Client) probe(ctx context.Context) (domain.SchemaVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, PROBE_TIMEOUT)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return domain.SchemaUnknown, &domain.OptimizationTransportError{Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SchemaUnknown, &domain.OptimizationTransportError{Err: fmt.Errorf("probe: %w", err)}
	}
	defer resp.Body.Close()

	variant := domain.SchemaUnknown
	switch resp.StatusCode {
	case http.StatusOK:
		var health healthResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&health); err != nil {
			return domain.SchemaUnknown, &domain.OptimizationTransportError{Err: fmt.Errorf("probe: decode health: %w", err)}
		}
		if health.Status != "alive" {
			return domain.SchemaUnknown, &domain.OptimizationTransportError{Err: fmt.Errorf("probe: server status %q", health.Status)}
		}
		variant = domain.SchemaCurrent
	case http.StatusNotFound:
		variant = domain.SchemaLegacy
	default:
		return domain.SchemaUnknown, &domain.OptimizationTransportError{Err: fmt.Errorf("probe: unexpected status %d", resp.StatusCode)}
	}

	c.mu.Lock()
	c.variant = variant
	c.mu.Unlock()
	c.logger.Info("eos@probe: solver schema detected", zap.Stringer("variant", variant))
	return variant, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variant = domain.SchemaUnknown
}

// Submit posts the request and waits at most deadline for the answer.
func (c *Client) Submit(ctx context.Context, request domain.OptimizationRequest, deadline time.Duration) (*domain.OptimizationResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode optimization request: %w", err)
	}

	solveCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	url := fmt.Sprintf("%s/optimize?start_hour=%d", c.baseURL, request.StartHour)
	req, err := http.NewRequestWithContext(solveCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.OptimizationTransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("eos@submit: sending optimization request",
		zap.Stringer("variant", request.Variant), zap.Int("start_hour", request.StartHour))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, solveCtx, deadline, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, c.classify(ctx, solveCtx, deadline, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		c.logger.Warn("eos@submit: solver rejected request schema, probing again", zap.Stringer("variant", request.Variant))
		c.invalidate()
		if _, probeErr := c.probe(ctx); probeErr != nil {
			c.logger.Warn("eos@probe: schema probe failed", zap.Error(probeErr))
		}
		return nil, &domain.OptimizationResponseError{Reason: "status 422: " + snippet(raw), Err: domain.ErrSchemaMismatch}
	case resp.StatusCode >= 500:
		return nil, &domain.OptimizationTransportError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &domain.OptimizationResponseError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(raw))}
	}

	return parseResponse(raw, c.now())
}

func (c *Client) classify(parent, solveCtx context.Context, deadline time.Duration, err error) error {
	if errors.Is(solveCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return &domain.OptimizationTimeoutError{Deadline: deadline.String(), Err: err}
	}
	return &domain.OptimizationTransportError{Err: err}
}

// presence distinguishes missing arrays from empty ones.
type presence struct {
	ACCharge         json.RawMessage `json:"ac_charge"`
	DCCharge         json.RawMessage `json:"dc_charge"`
	DischargeAllowed json.RawMessage `json:"discharge_allowed"`
}

func parseResponse(raw []byte, receivedAt time.Time) (*domain.OptimizationResponse, error) {
	var p presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &domain.OptimizationResponseError{Reason: "invalid json", Err: err}
	}
	for name, field := range map[string]json.RawMessage{
		"ac_charge":         p.ACCharge,
		"dc_charge":         p.DCCharge,
		"discharge_allowed": p.DischargeAllowed,
	} {
		if len(field) == 0 || string(field) == "null" {
			return nil, &domain.OptimizationResponseError{Reason: "missing " + name}
		}
	}

	var resp domain.OptimizationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.OptimizationResponseError{Reason: "unexpected response shape", Err: err}
	}
	if len(resp.StartSolution) <= 1 {
		return nil, &domain.OptimizationResponseError{Reason: fmt.Sprintf("start_solution too short (%d)", len(resp.StartSolution))}
	}
	resp.ReceivedAt = receivedAt
	resp.Raw = raw
	return &resp, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

var _ port.Optimizer = (*Client)(nil)
