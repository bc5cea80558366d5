package inverter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const originalRules = `[{"Active":true,"Power":3000,"ScheduleType":"DISCHARGE_MAX","TimeTable":{"Start":"22:00","End":"06:00"},"Weekdays":{"Mon":true,"Tue":true,"Wed":true,"Thu":true,"Fri":true,"Sat":false,"Sun":false}}]`

// fakeFronius emulates the GEN24 web API with digest authentication.
type fakeFronius struct {
	mu sync.Mutex

	apiBase           string
	announceAlgorithm string
	storedAlgorithm   string
	user              string
	password          string
	sameNonce         bool
	writeSuccess      bool

	nonce      string
	challenges int
	algorithms []string
	rules      json.RawMessage
	writes     []string
}

func newFakeFronius(apiBase, announce, stored string) *fakeFronius {
	return &fakeFronius{
		apiBase:           apiBase,
		announceAlgorithm: announce,
		storedAlgorithm:   stored,
		user:              "customer",
		password:          "secret",
		writeSuccess:      true,
		rules:             json.RawMessage(originalRules),
	}
}

func (f *fakeFronius) challenge(w http.ResponseWriter) {
	if !f.sameNonce || f.nonce == "" {
		f.challenges++
		f.nonce = fmt.Sprintf("nonce%03d", f.challenges)
	}
	w.Header().Set("X-WWW-Authenticate",
		fmt.Sprintf(`Digest realm="Webinterface area", nonce="%s", algorithm=%s, qop="auth"`, f.nonce, f.announceAlgorithm))
	w.WriteHeader(http.StatusUnauthorized)
}

func (f *fakeFronius) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if header == "" {
		return false
	}
	params := map[string]string{}
	for _, m := range challengeParamRegexp.FindAllStringSubmatch(strings.TrimPrefix(header, "Digest "), -1) {
		value := m[2]
		if value == "" {
			value = strings.TrimSpace(m[3])
		}
		params[m[1]] = value
	}
	f.algorithms = append(f.algorithms, params["algorithm"])
	if params["nonce"] != f.nonce || params["username"] != f.user || params["uri"] != r.URL.Path {
		return false
	}
	ha1 := digestHash(f.storedAlgorithm, fmt.Sprintf("%s:%s:%s", f.user, DIGEST_REALM, f.password))
	ha2 := digestHash(f.storedAlgorithm, fmt.Sprintf("%s:%s", r.Method, r.URL.Path))
	expected := digestHash(f.storedAlgorithm, fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, params["nonce"], params["nc"], params["cnonce"], params["qop"], ha2))
	return params["response"] == expected
}

func (f *fakeFronius) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == STORAGE_REALTIME_PATH {
		w.Write([]byte(`{"Body":{"Data":{"0":{"Controller":{"DesignedCapacity":11059,"StateOfCharge_Relative":64.5}}}}}`))
		return
	}
	if !strings.HasPrefix(r.URL.Path, f.apiBase) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	endpoint := strings.TrimPrefix(r.URL.Path, f.apiBase)
	if endpoint != TIMEOFUSE_ENDPOINT && endpoint != READABLE_ENDPOINT {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !f.authorized(r) {
		f.challenge(w)
		return
	}

	switch {
	case endpoint == READABLE_ENDPOINT:
		w.Write([]byte(`{"Body":{"Data":{"0":{"channels":{"DEVICE_TEMPERATURE_AMBIENTMEAN_01_F32":31.456,"MODULE_TEMPERATURE_MEAN_01_F32":40.1,"FANCONTROL_PERCENT_01_F32":12.5}}}}}`))
	case r.Method == http.MethodGet:
		fmt.Fprintf(w, `{"timeofuse":%s}`, f.rules)
	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			TimeOfUse json.RawMessage `json:"timeofuse"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.writes = append(f.writes, string(payload.TimeOfUse))
		if f.writeSuccess {
			f.rules = payload.TimeOfUse
			w.Write([]byte(`{"errors":[],"permissionFailure":[],"unknownNodes":[],"validationErrors":[],"writeFailure":[],"writeSuccess":["timeofuse"]}`))
		} else {
			w.Write([]byte(`{"errors":[],"writeFailure":["timeofuse"],"writeSuccess":[]}`))
		}
	}
}

func (f *fakeFronius) snapshot() (writes []string, challenges int, algorithms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...), f.challenges, append([]string(nil), f.algorithms...)
}

func froniusConfig(url string) config.InverterConfig {
	return config.InverterConfig{
		Address:              url,
		User:                 "Customer",
		Password:             "secret",
		MaxGridChargeRate:    5000,
		MaxPVChargeRate:      5000,
		RequestTimeoutMillis: 2000,
	}
}

func chargeDispatch(acW, dynW float64) domain.Dispatch {
	return domain.Dispatch{
		Target: domain.EffectiveTarget{
			Mode:            domain.InverterModeChargeFromGrid,
			ACChargeDemandW: acW,
			Origin:          domain.TargetOriginAuto,
		},
		MaxChargePowerDynW: dynW,
	}
}

func holdDispatch(dcW, dynW float64) domain.Dispatch {
	return domain.Dispatch{
		Target: domain.EffectiveTarget{
			Mode:            domain.InverterModeAvoidDischarge,
			DCChargeDemandW: dcW,
			Origin:          domain.TargetOriginAuto,
		},
		MaxChargePowerDynW: dynW,
	}
}

func TestDigestAuthorizationRFC2617(t *testing.T) {
	challenge := digestChallenge{
		Realm:     "testrealm@host.com",
		Nonce:     "dcd98b7102dd2f0e8b11d0f600bfb0c093",
		Algorithm: DIGEST_ALGO_MD5,
	}
	header := digestAuthorization("Mufasa", "Circle Of Life", http.MethodGet, "/dir/index.html", challenge,
		DIGEST_ALGO_MD5, 1, "0a4f113b")

	assert.Contains(t, header, `response="6629fae49393a05397450978507c4ef1"`)
	assert.Contains(t, header, `nc=00000001`)
	assert.Contains(t, header, `algorithm="MD5"`)
}

func TestParseChallenge(t *testing.T) {
	require := require.New(t)

	header := http.Header{}
	header.Set("X-WWW-Authenticate", `Digest realm="Webinterface area", nonce="a1b2c3", algorithm=SHA256, qop="auth"`)
	challenge, ok := parseChallenge(header)
	require.True(ok)
	require.Equal("Webinterface area", challenge.Realm)
	require.Equal("a1b2c3", challenge.Nonce)
	require.Equal(DIGEST_ALGO_SHA256, challenge.Algorithm)

	header = http.Header{}
	header.Set("WWW-Authenticate", `Digest realm="Webinterface area", nonce="zz", qop="auth"`)
	challenge, ok = parseChallenge(header)
	require.True(ok)
	require.Equal(DIGEST_ALGO_MD5, challenge.Algorithm)

	_, ok = parseChallenge(http.Header{})
	require.False(ok)
}

func TestTimeOfUseRules(t *testing.T) {
	tests := []struct {
		name     string
		dispatch domain.Dispatch
		expected []timeOfUseRule
	}{
		{
			name:     "grid charge at requested power",
			dispatch: chargeDispatch(1500, 5000),
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MIN, 1500)},
		},
		{
			name:     "grid charge bounded by dynamic ceiling",
			dispatch: chargeDispatch(4500, 3050),
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MIN, 3050)},
		},
		{
			name:     "grid charge bounded by grid rate",
			dispatch: chargeDispatch(9000, 9000),
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MIN, 5000)},
		},
		{
			name:     "avoid discharge keeps pv charging",
			dispatch: holdDispatch(4000, 3050),
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_DISCHARGE_MAX, 0), wholeDayRule(SCHEDULE_CHARGE_MAX, 3050)},
		},
		{
			name:     "idle blocks charging",
			dispatch: holdDispatch(0, 3050),
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_DISCHARGE_MAX, 0), wholeDayRule(SCHEDULE_CHARGE_MAX, 0)},
		},
		{
			name: "discharge allowed",
			dispatch: domain.Dispatch{
				Target:             domain.EffectiveTarget{Mode: domain.InverterModeDischargeAllowed, DCChargeDemandW: 2000, DischargeAllowed: true},
				MaxChargePowerDynW: 5000,
			},
			expected: []timeOfUseRule{wholeDayRule(SCHEDULE_CHARGE_MAX, 2000)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, timeOfUseRules(tt.dispatch, 5000))
		})
	}

	rule := wholeDayRule(SCHEDULE_CHARGE_MIN, 1500)
	assert.Equal(t, timeTable{Start: "00:00", End: "23:59"}, rule.TimeTable)
	assert.True(t, rule.Weekdays.Sun)
	assert.True(t, rule.Active)
}

func TestFroniusAdaptiveApplyBackupAndRestore(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/api/", DIGEST_ALGO_SHA256, DIGEST_ALGO_SHA256)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusAdaptiveBackend(froniusConfig(server.URL), zap.NewNop())
	ctx := context.Background()

	require.NoError(backend.Apply(ctx, chargeDispatch(1500, 5000)))
	writes, _, algorithms := fake.snapshot()
	require.Len(writes, 1)
	require.Contains(writes[0], `"Power":1500`)
	require.Contains(writes[0], `"ScheduleType":"CHARGE_MIN"`)
	require.Contains(algorithms, DIGEST_ALGO_SHA256)
	require.JSONEq(originalRules, string(backend.backup))

	// unchanged command, no device call
	require.NoError(backend.Apply(ctx, chargeDispatch(1500, 5000)))
	writes, _, _ = fake.snapshot()
	require.Len(writes, 1)

	require.NoError(backend.Apply(ctx, holdDispatch(4000, 3050)))
	writes, _, _ = fake.snapshot()
	require.Len(writes, 2)
	require.Contains(writes[1], `"ScheduleType":"DISCHARGE_MAX"`)

	require.NoError(backend.Close(ctx))
	writes, _, _ = fake.snapshot()
	require.Len(writes, 3)
	require.JSONEq(originalRules, writes[2])
}

func TestFroniusAdaptiveFallsBackToMD5(t *testing.T) {
	require := require.New(t)

	// firmware announces SHA256 but the password hash predates the update
	fake := newFakeFronius("/api/", DIGEST_ALGO_SHA256, DIGEST_ALGO_MD5)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusAdaptiveBackend(froniusConfig(server.URL), zap.NewNop())
	require.NoError(backend.Apply(context.Background(), chargeDispatch(1000, 5000)))

	writes, _, algorithms := fake.snapshot()
	require.Len(writes, 1)
	require.Contains(algorithms, DIGEST_ALGO_SHA256)
	require.Equal(DIGEST_ALGO_MD5, algorithms[len(algorithms)-1])
}

func TestFroniusAdaptiveDetectsOldFirmwareBase(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/", DIGEST_ALGO_MD5, DIGEST_ALGO_MD5)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusAdaptiveBackend(froniusConfig(server.URL), zap.NewNop())
	require.NoError(backend.Apply(context.Background(), holdDispatch(2000, 5000)))
	require.Equal("/", backend.session.apiBase)

	writes, _, _ := fake.snapshot()
	require.Len(writes, 1)
}

func TestFroniusAdaptiveWriteRejected(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/api/", DIGEST_ALGO_SHA256, DIGEST_ALGO_SHA256)
	fake.writeSuccess = false
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusAdaptiveBackend(froniusConfig(server.URL), zap.NewNop())
	err := backend.Apply(context.Background(), chargeDispatch(1500, 5000))
	var rejected *domain.BackendRejectedError
	require.True(errors.As(err, &rejected))

	// a failed write is retried with the same command
	fake.mu.Lock()
	fake.writeSuccess = true
	fake.mu.Unlock()
	require.NoError(backend.Apply(context.Background(), chargeDispatch(1500, 5000)))
	writes, _, _ := fake.snapshot()
	require.Len(writes, 2)
}

func TestFroniusAdaptiveBadCredentials(t *testing.T) {
	fake := newFakeFronius("/api/", DIGEST_ALGO_SHA256, DIGEST_ALGO_SHA256)
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := froniusConfig(server.URL)
	cfg.Password = "wrong"
	backend := NewFroniusAdaptiveBackend(cfg, zap.NewNop())

	err := backend.Apply(context.Background(), chargeDispatch(1500, 5000))
	var authErr *domain.BackendAuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "backend_auth", domain.ErrorKind(err))
}

func TestFroniusAdaptiveStatus(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/api/", DIGEST_ALGO_SHA256, DIGEST_ALGO_SHA256)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusAdaptiveBackend(froniusConfig(server.URL), zap.NewNop())
	telemetry, err := backend.Status(context.Background())
	require.NoError(err)
	require.Equal(31.46, telemetry.Temperatures["ambient"])
	require.Equal(40.1, telemetry.Temperatures["module_1"])
	require.Equal(12.5, telemetry.FanPercent["fan_1"])
	require.NotContains(telemetry.Temperatures, "module_3")
	require.NotNil(telemetry.SOCPercent)
	require.Equal(64.5, *telemetry.SOCPercent)
}

func TestFroniusLegacyReusesSessionNonce(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/", DIGEST_ALGO_MD5, DIGEST_ALGO_MD5)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusLegacyBackend(froniusConfig(server.URL), zap.NewNop())
	ctx := context.Background()

	require.NoError(backend.Apply(ctx, chargeDispatch(1500, 5000)))
	require.NoError(backend.Apply(ctx, holdDispatch(2000, 5000)))
	require.NoError(backend.Apply(ctx, chargeDispatch(2500, 5000)))

	writes, challenges, _ := fake.snapshot()
	require.Len(writes, 3)
	require.Equal(1, challenges)

	// expired nonce, the session logs in again
	fake.mu.Lock()
	fake.nonce = "expired"
	fake.mu.Unlock()
	require.NoError(backend.Apply(ctx, holdDispatch(1000, 5000)))
	writes, challenges, _ = fake.snapshot()
	require.Len(writes, 4)
	require.Equal(2, challenges)
}

func TestFroniusLegacyRejectedSession(t *testing.T) {
	require := require.New(t)

	fake := newFakeFronius("/", DIGEST_ALGO_MD5, DIGEST_ALGO_MD5)
	server := httptest.NewServer(fake)
	defer server.Close()

	backend := NewFroniusLegacyBackend(froniusConfig(server.URL), zap.NewNop())
	ctx := context.Background()
	require.NoError(backend.Apply(ctx, chargeDispatch(1500, 5000)))

	// password changed on the device while the session nonce stays valid
	fake.mu.Lock()
	fake.password = "changed"
	fake.sameNonce = true
	fake.mu.Unlock()

	err := backend.Apply(ctx, holdDispatch(2000, 5000))
	var authErr *domain.BackendAuthError
	require.True(errors.As(err, &authErr))
}

func TestFroniusLegacyTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	backend := NewFroniusLegacyBackend(froniusConfig(url), zap.NewNop())
	err := backend.Apply(context.Background(), chargeDispatch(1500, 5000))
	var transportErr *domain.BackendTransportError
	require.True(t, errors.As(err, &transportErr))
}
