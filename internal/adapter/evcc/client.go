package evcc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DEFAULT_REQUEST_TIMEOUT = 6 * time.Second
	MAX_BODY_BYTES          = 4 << 20
)

type BatteryMode string

const (
	BatteryModeNormal BatteryMode = "normal"
	BatteryModeHold   BatteryMode = "hold"
	BatteryModeCharge BatteryMode = "charge"
)

var ErrNoLoadpoint = errors.New("evcc: no loadpoint in state")

// State is the subset of /api/state this service reads.
type State struct {
	BatterySOC *float64
	Charging   bool
}

type loadpointPayload struct {
	Charging *bool `json:"charging"`
}

type statePayload struct {
	BatterySOC *float64           `json:"batterySoc"`
	Loadpoints []loadpointPayload `json:"loadpoints"`
}

// Client talks to the EVCC REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DEFAULT_REQUEST_TIMEOUT
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) State(ctx context.Context) (*State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evcc: state returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_BODY_BYTES))
	if err != nil {
		return nil, err
	}
	return parseState(body)
}

// parseState accepts both the enveloped ({"result": {...}}) and the bare state document.
func parseState(body []byte) (*State, error) {
	var envelope struct {
		Result *statePayload `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("evcc: unparsable state: %w", err)
	}
	payload := envelope.Result
	if payload == nil {
		payload = &statePayload{}
		if err := json.Unmarshal(body, payload); err != nil {
			return nil, fmt.Errorf("evcc: unparsable state: %w", err)
		}
	}

	if len(payload.Loadpoints) == 0 || payload.Loadpoints[0].Charging == nil {
		return &State{BatterySOC: payload.BatterySOC}, ErrNoLoadpoint
	}
	return &State{
		BatterySOC: payload.BatterySOC,
		Charging:   *payload.Loadpoints[0].Charging,
	}, nil
}

func (c *Client) SetBatteryMode(ctx context.Context, mode BatteryMode) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/batterymode/%s", c.baseURL, mode), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, MAX_BODY_BYTES))
	return resp.StatusCode, nil
}
