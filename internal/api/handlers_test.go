package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beacon/internal/blink"
	"beacon/internal/ewelink"
	"beacon/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchCall struct {
	deviceID string
	state    ewelink.SwitchState
}

type stubDispatcher struct {
	err   error
	calls []dispatchCall
}

func (d *stubDispatcher) SetState(ctx context.Context, deviceID string, state ewelink.SwitchState) error {
	d.calls = append(d.calls, dispatchCall{deviceID: deviceID, state: state})
	return d.err
}

type stubSequencer struct {
	err     error
	devices []string
}

func (s *stubSequencer) Run(ctx context.Context, deviceID string) error {
	s.devices = append(s.devices, deviceID)
	return s.err
}

func (s *stubSequencer) Steps() int { return 7 }

type stubExchanger struct {
	tokens      *ewelink.TokenSet
	err         error
	gotCode     string
	gotRedirect string
}

func (e *stubExchanger) ExchangeCode(ctx context.Context, code, redirectURL string) (*ewelink.TokenSet, error) {
	e.gotCode = code
	e.gotRedirect = redirectURL
	return e.tokens, e.err
}

type stubTokenStorage struct {
	tokens *ewelink.TokenSet
}

func (s *stubTokenStorage) GetTokens(ctx context.Context) (*ewelink.TokenSet, error) {
	return s.tokens, nil
}

func (s *stubTokenStorage) SaveTokens(ctx context.Context, tokens *ewelink.TokenSet) error {
	s.tokens = tokens
	return nil
}

type testEnv struct {
	router     *gin.Engine
	dispatcher *stubDispatcher
	sequencer  *stubSequencer
	exchanger  *stubExchanger
	storage    *stubTokenStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		dispatcher: &stubDispatcher{},
		sequencer:  &stubSequencer{},
		exchanger:  &stubExchanger{},
		storage:    &stubTokenStorage{},
	}
	env.router = NewRouter(RouterConfig{
		Dispatcher:    env.dispatcher,
		Sequencer:     env.sequencer,
		Exchanger:     env.exchanger,
		TokenStorage:  env.storage,
		AlertDeviceID: "alert-device",
		RedirectURL:   "http://127.0.0.1/callback",
		APIKey:        "test-key",
		Logger:        logging.NewLogger(logging.LoggerConfig{Format: "text"}),
	})
	return env
}

func (e *testEnv) request(method, path, body, apiKey string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", decode(t, w)["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("GET", "/v1/auth/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_REQUIRED", decode(t, w)["code"])

	w = env.request("GET", "/v1/auth/status", "", "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_API_KEY", decode(t, w)["code"])

	w = env.request("GET", "/v1/auth/status", "", "test-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerAlert_DefaultDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("POST", "/v1/alerts", "", "test-key")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "alert-device", resp["device_id"])
	assert.Equal(t, float64(7), resp["steps"])
	assert.Contains(t, resp["alert_id"], "alr_")
	assert.Equal(t, []string{"alert-device"}, env.sequencer.devices)
}

func TestTriggerAlert_ExplicitDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("POST", "/v1/alerts", `{"device_id":"device-42"}`, "test-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"device-42"}, env.sequencer.devices)
}

func TestTriggerAlert_AbortedSequence(t *testing.T) {
	env := newTestEnv(t)
	env.sequencer.err = &blink.StepError{
		Step:      3,
		State:     ewelink.SwitchOff,
		LastState: ewelink.SwitchOn,
		Err:       fmt.Errorf("device is offline"),
	}

	w := env.request("POST", "/v1/alerts", "", "test-key")
	require.Equal(t, http.StatusBadGateway, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "BLINK_ABORTED", resp["code"])
	assert.Equal(t, float64(3), resp["step"])
	assert.Equal(t, "on", resp["last_state"])
}

func TestSetDeviceState(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("POST", "/v1/devices/device-9/state", `{"state":"off"}`, "test-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []dispatchCall{{deviceID: "device-9", state: ewelink.SwitchOff}}, env.dispatcher.calls)
}

func TestSetDeviceState_InvalidState(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("POST", "/v1/devices/device-9/state", `{"state":"blink"}`, "test-key")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.dispatcher.calls)
}

func TestSetDeviceState_NotAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = ewelink.ErrNotAuthenticated

	w := env.request("POST", "/v1/devices/device-9/state", `{"state":"on"}`, "test-key")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", decode(t, w)["code"])
}

func TestSetDeviceState_ProviderRejection(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = &ewelink.DispatchError{Code: 4002, Msg: "device is offline"}

	w := env.request("POST", "/v1/devices/device-9/state", `{"state":"on"}`, "test-key")
	require.Equal(t, http.StatusBadGateway, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "COMMAND_REJECTED", resp["code"])
	assert.Equal(t, float64(4002), resp["provider_error"])
	assert.Equal(t, "device is offline", resp["provider_msg"])
}

func TestSubmitAuthCode(t *testing.T) {
	env := newTestEnv(t)

	expiry := time.Now().Add(time.Hour)
	env.exchanger.tokens = &ewelink.TokenSet{
		AccessToken: "at-1",
		Region:      ewelink.RegionEU,
		ObtainedAt:  time.Now(),
		ExpiresAt:   &expiry,
	}

	w := env.request("POST", "/v1/auth/code", `{"code":"code-123"}`, "test-key")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "eu", resp["region"])
	assert.NotEmpty(t, resp["expires_at"])
	assert.Equal(t, "code-123", env.exchanger.gotCode)
	assert.Equal(t, "http://127.0.0.1/callback", env.exchanger.gotRedirect, "falls back to the configured redirect URL")
}

func TestSubmitAuthCode_MissingCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("POST", "/v1/auth/code", `{}`, "test-key")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitAuthCode_CodeExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.exchanger.err = &ewelink.AcquisitionError{Attempts: []ewelink.Attempt{{
		Region:   ewelink.RegionUS,
		Strategy: "credentials",
		Err:      fmt.Errorf("%w: provider error 4002: code expired", ewelink.ErrCodeExhausted),
	}}}

	w := env.request("POST", "/v1/auth/code", `{"code":"stale"}`, "test-key")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "CODE_EXHAUSTED", decode(t, w)["code"])
}

func TestSubmitAuthCode_SignatureFailure(t *testing.T) {
	env := newTestEnv(t)
	env.exchanger.err = &ewelink.AcquisitionError{Attempts: []ewelink.Attempt{{
		Region:   ewelink.RegionUS,
		Strategy: "unsigned",
		Err:      fmt.Errorf("%w: bad sign", ewelink.ErrSignatureRejected),
	}}}

	w := env.request("POST", "/v1/auth/code", `{"code":"code-123"}`, "test-key")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "EXCHANGE_FAILED", decode(t, w)["code"])
}

func TestGetAuthStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.request("GET", "/v1/auth/status", "", "test-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["authenticated"])

	expiry := time.Now().Add(time.Hour)
	env.storage.tokens = &ewelink.TokenSet{
		AccessToken: "at-1",
		Region:      ewelink.RegionAsia,
		ObtainedAt:  time.Now(),
		ExpiresAt:   &expiry,
	}

	w = env.request("GET", "/v1/auth/status", "", "test-key")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, true, resp["authenticated"])
	assert.Equal(t, "as", resp["region"])
	assert.Equal(t, false, resp["expired"])
}
