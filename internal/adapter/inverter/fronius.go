package inverter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	FRONIUS_MAX_CHARGE_POWER_W = 10000
	SCHEDULE_CHARGE_MIN        = "CHARGE_MIN"
	SCHEDULE_CHARGE_MAX        = "CHARGE_MAX"
	SCHEDULE_DISCHARGE_MAX     = "DISCHARGE_MAX"
	TIMEOFUSE_ENDPOINT         = "config/timeofuse"
	STORAGE_REALTIME_PATH      = "/solar_api/v1/GetStorageRealtimeData.cgi"
	MAX_BODY_BYTES             = 1 << 20
)

type timeTable struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type weekdays struct {
	Mon bool `json:"Mon"`
	Tue bool `json:"Tue"`
	Wed bool `json:"Wed"`
	Thu bool `json:"Thu"`
	Fri bool `json:"Fri"`
	Sat bool `json:"Sat"`
	Sun bool `json:"Sun"`
}

type timeOfUseRule struct {
	Active       bool      `json:"Active"`
	Power        int       `json:"Power"`
	ScheduleType string    `json:"ScheduleType"`
	TimeTable    timeTable `json:"TimeTable"`
	Weekdays     weekdays  `json:"Weekdays"`
}

func wholeDayRule(scheduleType string, powerW float64) timeOfUseRule {
	return timeOfUseRule{
		Active:       true,
		Power:        int(math.Round(math.Max(0, powerW))),
		ScheduleType: scheduleType,
		TimeTable:    timeTable{Start: "00:00", End: "23:59"},
		Weekdays:     weekdays{Mon: true, Tue: true, Wed: true, Thu: true, Fri: true, Sat: true, Sun: true},
	}
}

// timeOfUseRules maps a dispatch to the whole-day rule set of the battery scheduler.
func timeOfUseRules(d domain.Dispatch, maxGridChargeRateW float64) []timeOfUseRule {
	target := d.Target
	dyn := d.MaxChargePowerDynW
	switch target.Mode {
	case domain.InverterModeChargeFromGrid:
		power := min(target.ACChargeDemandW, maxGridChargeRateW, dyn, FRONIUS_MAX_CHARGE_POWER_W)
		return []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MIN, power)}
	case domain.InverterModeAvoidDischarge:
		return []timeOfUseRule{
			wholeDayRule(SCHEDULE_DISCHARGE_MAX, 0),
			wholeDayRule(SCHEDULE_CHARGE_MAX, min(target.DCChargeDemandW, dyn)),
		}
	case domain.InverterModeDischargeAllowed:
		return []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MAX, min(target.DCChargeDemandW, dyn))}
	}
	return nil
}

type froniusResponse struct {
	status int
	header http.Header
	body   []byte
}

// froniusSession is the digest authenticated web API client shared by both Fronius backends.
// It is not safe for concurrent use.
type froniusSession struct {
	name       string
	baseURL    string
	apiBase    string
	user       string
	password   string
	legacy     bool
	httpClient *http.Client
	newCnonce  func() string
	logger     *zap.Logger

	challenge *digestChallenge
	algorithm string
	forceMD5  bool
	nc        uint32
}

func newFroniusSession(name string, cfg config.InverterConfig, legacy bool, logger *zap.Logger) *froniusSession {
	return &froniusSession{
		name:       name,
		baseURL:    cfg.BaseURL(),
		apiBase:    "/",
		user:       strings.ToLower(cfg.User),
		password:   cfg.Password,
		legacy:     legacy,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		newCnonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
		logger: logger,
	}
}

func (s *froniusSession) uri(endpoint string) string {
	return s.apiBase + strings.TrimPrefix(endpoint, "/")
}

func (s *froniusSession) send(ctx context.Context, method, uri string, body []byte, authorization string) (*froniusResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+uri, reader)
	if err != nil {
		return nil, &domain.BackendTransportError{Backend: s.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.BackendTransportError{Backend: s.name, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MAX_BODY_BYTES))
	if err != nil {
		return nil, &domain.BackendTransportError{Backend: s.name, Err: err}
	}
	return &froniusResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (s *froniusSession) accept(challenge digestChallenge) {
	s.challenge = &challenge
	s.nc = 0
	if s.legacy || s.forceMD5 {
		s.algorithm = DIGEST_ALGO_MD5
	} else {
		s.algorithm = challenge.Algorithm
	}
}

func (s *froniusSession) authorization(method, uri string) string {
	s.nc++
	return digestAuthorization(s.user, s.password, method, uri, *s.challenge, s.algorithm, s.nc, s.newCnonce())
}

// request performs a digest authenticated call. The legacy session keeps its nonce
// across calls, the adaptive session answers a fresh challenge every time.
func (s *froniusSession) request(ctx context.Context, method, endpoint string, body []byte) (*froniusResponse, error) {
	uri := s.uri(endpoint)

	if s.legacy && s.challenge != nil {
		resp, err := s.send(ctx, method, uri, body, s.authorization(method, uri))
		if err != nil || resp.status != http.StatusUnauthorized {
			return resp, err
		}
		challenge, ok := parseChallenge(resp.header)
		if !ok || challenge.Nonce == s.challenge.Nonce {
			s.challenge = nil
			return nil, &domain.BackendAuthError{Backend: s.name, Err: errors.New("session rejected")}
		}
		s.logger.Debug("fronius@auth: session nonce expired, logging in again")
		s.accept(challenge)
		return s.authorized(ctx, method, uri, body, false)
	}

	resp, err := s.send(ctx, method, uri, body, "")
	if err != nil || resp.status != http.StatusUnauthorized {
		return resp, err
	}
	challenge, ok := parseChallenge(resp.header)
	if !ok {
		return nil, &domain.BackendAuthError{Backend: s.name, Err: errors.New("missing digest challenge")}
	}
	s.accept(challenge)
	return s.authorized(ctx, method, uri, body, !s.legacy)
}

func (s *froniusSession) authorized(ctx context.Context, method, uri string, body []byte, mayFallback bool) (*froniusResponse, error) {
	resp, err := s.send(ctx, method, uri, body, s.authorization(method, uri))
	if err != nil || resp.status != http.StatusUnauthorized {
		return resp, err
	}

	if mayFallback && isSHA256(s.algorithm) {
		s.logger.Info("fronius@auth: SHA256 digest rejected, falling back to MD5")
		s.forceMD5 = true
		challenge, ok := parseChallenge(resp.header)
		if !ok {
			fresh, err := s.send(ctx, method, uri, body, "")
			if err != nil {
				return nil, err
			}
			if challenge, ok = parseChallenge(fresh.header); !ok {
				return nil, &domain.BackendAuthError{Backend: s.name, Err: errors.New("missing digest challenge")}
			}
		}
		s.accept(challenge)
		return s.authorized(ctx, method, uri, body, false)
	}

	s.challenge = nil
	s.logger.Error("fronius@auth: credentials rejected, a firmware update may require a password reset in the web UI",
		zap.String("user", s.user), zap.String("algorithm", s.algorithm))
	return nil, &domain.BackendAuthError{Backend: s.name,
		Err: fmt.Errorf("%s %s rejected with %s digest", method, uri, s.algorithm)}
}

func (s *froniusSession) writeTimeOfUse(ctx context.Context, payload []byte) error {
	resp, err := s.request(ctx, http.MethodPost, TIMEOFUSE_ENDPOINT, payload)
	if err != nil {
		return err
	}
	if err := s.checkStatus(resp); err != nil {
		return err
	}

	var result struct {
		WriteSuccess []string `json:"writeSuccess"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return &domain.BackendRejectedError{Backend: s.name, Reason: fmt.Sprintf("unparsable write response: %v", err)}
	}
	if !slices.Contains(result.WriteSuccess, "timeofuse") {
		return &domain.BackendRejectedError{Backend: s.name, Reason: "timeofuse missing from writeSuccess"}
	}
	return nil
}

// readTimeOfUse returns the raw rule list currently stored on the device.
func (s *froniusSession) readTimeOfUse(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.request(ctx, http.MethodGet, TIMEOFUSE_ENDPOINT, nil)
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		TimeOfUse json.RawMessage `json:"timeofuse"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, &domain.BackendRejectedError{Backend: s.name, Reason: fmt.Sprintf("unparsable timeofuse: %v", err)}
	}
	if len(result.TimeOfUse) == 0 || string(result.TimeOfUse) == "null" {
		return json.RawMessage("[]"), nil
	}
	return result.TimeOfUse, nil
}

func (s *froniusSession) checkStatus(resp *froniusResponse) error {
	switch {
	case resp.status == http.StatusOK:
		return nil
	case resp.status >= 500:
		return &domain.BackendTransportError{Backend: s.name, Err: fmt.Errorf("status %d", resp.status)}
	}
	return &domain.BackendRejectedError{Backend: s.name, Reason: fmt.Sprintf("status %d", resp.status)}
}

// storageSOC reads the state of charge from the unauthenticated solar API.
func (s *froniusSession) storageSOC(ctx context.Context) (*float64, error) {
	resp, err := s.send(ctx, http.MethodGet, STORAGE_REALTIME_PATH, nil, "")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Body struct {
			Data map[string]struct {
				Controller struct {
					StateOfCharge *float64 `json:"StateOfCharge_Relative"`
				} `json:"Controller"`
			} `json:"Data"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, &domain.BackendRejectedError{Backend: s.name, Reason: fmt.Sprintf("unparsable storage data: %v", err)}
	}

	ids := make([]string, 0, len(result.Body.Data))
	for id := range result.Body.Data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if soc := result.Body.Data[id].Controller.StateOfCharge; soc != nil {
			return soc, nil
		}
	}
	return nil, nil
}

// froniusBackend holds what both Fronius variants share: rule mapping and idempotent writes.
type froniusBackend struct {
	mu                 sync.Mutex
	session            *froniusSession
	maxGridChargeRateW float64
	lastPayload        []byte
	logger             *zap.Logger
}

func (b *froniusBackend) write(ctx context.Context, d domain.Dispatch) error {
	rules := timeOfUseRules(d, b.maxGridChargeRateW)
	payload, err := json.Marshal(map[string]any{"timeofuse": rules})
	if err != nil {
		return err
	}
	if b.lastPayload != nil && bytes.Equal(payload, b.lastPayload) {
		b.logger.Debug("fronius@apply: rules unchanged, skipping write")
		return nil
	}

	b.logger.Info("fronius@apply: writing time of use rules", zap.Stringer("mode", d.Target.Mode),
		zap.Any("rules", rules))
	if err := b.session.writeTimeOfUse(ctx, payload); err != nil {
		b.lastPayload = nil
		return err
	}
	b.lastPayload = payload
	return nil
}
