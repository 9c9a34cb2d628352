package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sscma-core/internal/device"
	"github.com/nerrad567/sscma-core/internal/history"
	"github.com/nerrad567/sscma-core/internal/infrastructure/config"
	"github.com/nerrad567/sscma-core/internal/infrastructure/logging"
	"github.com/nerrad567/sscma-core/internal/protocol"
)

// fakeDevice is a scripted DeviceController.
type fakeDevice struct {
	state device.State
	info  *device.Info
	model *device.ModelInfo
	wifi  *device.WiFiInfo
	mqtt  *device.MQTTInfo
	err   error

	result    json.RawMessage
	tscore    int
	tiou      int
	skipCache bool

	sampleCount  int
	invokeCount  int
	invokeFilter bool
	invokeShow   bool
	broke        bool
	reset        bool
	wifiSSID     string
	wifiPassword string
	wifiEnc      device.Encryption
	mqttServer   device.MQTTServer
	mqttPubSub   device.MQTTPubSub
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		state: device.State{
			Status: device.StatusReady,
			Flags:  device.StatusReady.Flags(),
		},
		info:   &device.Info{ID: "dev-1", Name: "Grove Vision AI", Version: "2024.01.01"},
		model:  &device.ModelInfo{Name: "Gesture"},
		wifi:   &device.WiFiInfo{Status: 2},
		mqtt:   &device.MQTTInfo{},
		result: json.RawMessage(`{"boxes":[]}`),
		tscore: 50,
		tiou:   45,
	}
}

func (f *fakeDevice) Snapshot() device.State { return f.state }

func (f *fakeDevice) Info(_ context.Context, skipCache bool) (*device.Info, error) {
	f.skipCache = skipCache
	return f.info, f.err
}

func (f *fakeDevice) Model(_ context.Context, skipCache bool) (*device.ModelInfo, error) {
	f.skipCache = skipCache
	return f.model, f.err
}

func (f *fakeDevice) WiFi(_ context.Context, skipCache bool) (*device.WiFiInfo, error) {
	f.skipCache = skipCache
	return f.wifi, f.err
}

func (f *fakeDevice) MQTT(_ context.Context, skipCache bool) (*device.MQTTInfo, error) {
	f.skipCache = skipCache
	return f.mqtt, f.err
}

func (f *fakeDevice) Sample(_ context.Context, count int) (json.RawMessage, error) {
	f.sampleCount = count
	return f.result, f.err
}

func (f *fakeDevice) Invoke(_ context.Context, count int, filter, show bool) (json.RawMessage, error) {
	f.invokeCount, f.invokeFilter, f.invokeShow = count, filter, show
	return f.result, f.err
}

func (f *fakeDevice) Break(context.Context) error {
	f.broke = true
	return f.err
}

func (f *fakeDevice) Reset(context.Context) error {
	f.reset = true
	return f.err
}

func (f *fakeDevice) TScore(context.Context) (int, error) { return f.tscore, f.err }

func (f *fakeDevice) SetTScore(_ context.Context, value int) error {
	if f.err != nil {
		return f.err
	}
	f.tscore = value
	return nil
}

func (f *fakeDevice) TIoU(context.Context) (int, error) { return f.tiou, f.err }

func (f *fakeDevice) SetTIoU(_ context.Context, value int) error {
	if f.err != nil {
		return f.err
	}
	f.tiou = value
	return nil
}

func (f *fakeDevice) SetWiFi(_ context.Context, ssid, password string, enc device.Encryption) error {
	f.wifiSSID, f.wifiPassword, f.wifiEnc = ssid, password, enc
	return f.err
}

func (f *fakeDevice) SetMQTTServer(_ context.Context, server device.MQTTServer) error {
	f.mqttServer = server
	return f.err
}

func (f *fakeDevice) SetMQTTPubSub(_ context.Context, pubsub device.MQTTPubSub) error {
	f.mqttPubSub = pubsub
	return f.err
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	events   []history.Event
	logs     []history.LogLine
	sessions []history.Session
	err      error
	filter   history.EventFilter
}

func (h *fakeHistory) RecordEvent(context.Context, history.Event) error  { return h.err }
func (h *fakeHistory) RecordLog(context.Context, history.LogLine) error  { return h.err }
func (h *fakeHistory) OpenSession(context.Context, history.Session) error { return h.err }

func (h *fakeHistory) CloseSession(context.Context, string, string, time.Time) error {
	return h.err
}

func (h *fakeHistory) RecentEvents(_ context.Context, filter history.EventFilter) ([]history.Event, error) {
	h.filter = filter
	return h.events, h.err
}

func (h *fakeHistory) RecentLogs(_ context.Context, limit int) ([]history.LogLine, error) {
	h.filter.Limit = limit
	return h.logs, h.err
}

func (h *fakeHistory) Sessions(_ context.Context, limit int) ([]history.Session, error) {
	h.filter.Limit = limit
	return h.sessions, h.err
}

func (h *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, h.err }

type fakeEngine struct{ stats protocol.Stats }

func (e fakeEngine) Stats() protocol.Stats { return e.stats }

type fakeBroker struct{ connected bool }

func (b fakeBroker) IsConnected() bool { return b.connected }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server around a fake device with a running hub.
func testServer(t *testing.T) (*Server, *fakeDevice) {
	t.Helper()
	return testServerWith(t, Deps{})
}

func testServerWith(t *testing.T, deps Deps) (*Server, *fakeDevice) {
	t.Helper()

	dev := newFakeDevice()
	deps.Config = config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
	}
	deps.WS = testWSConfig()
	deps.Logger = testLogger()
	deps.Device = dev
	deps.Version = "test"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return srv, dev
}

// do runs one request through the router.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Constructor Tests ─────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Device: newFakeDevice()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without device should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	flags, ok := resp["device"].([]any)
	if !ok || len(flags) != 1 || flags[0] != "READY" {
		t.Errorf("device = %v, want [READY]", resp["device"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/device/sample", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("ACAM = %q, want PUT allowed", got)
	}
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list admits all", nil, "http://any.local", true},
		{"wildcard", []string{"*"}, "http://any.local", true},
		{"listed", []string{"http://panel.local"}, "http://panel.local", true},
		{"unlisted", []string{"http://panel.local"}, "http://other.local", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := originAllowed(tt.allowed, tt.origin); got != tt.want {
				t.Errorf("originAllowed(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)

	h := srv.requestIDMiddleware(srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil snapshot")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/device", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Query Tests ────────────────────────────────────────────

func TestGetDevice(t *testing.T) {
	srv, dev := testServer(t)
	dev.state.RemainingInvoke = 3

	w := do(t, srv, http.MethodGet, "/api/v1/device/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	state := decode[map[string]any](t, w)
	if state["remaining_invoke"] != float64(3) {
		t.Errorf("remaining_invoke = %v, want 3", state["remaining_invoke"])
	}
}

func TestGetInfo_Refresh(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"cached", "/api/v1/device/info", false},
		{"refresh", "/api/v1/device/info?refresh=true", true},
		{"malformed", "/api/v1/device/info?refresh=maybe", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, dev := testServer(t)

			w := do(t, srv, http.MethodGet, tc.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if dev.skipCache != tc.want {
				t.Errorf("skipCache = %v, want %v", dev.skipCache, tc.want)
			}
			info := decode[device.Info](t, w)
			if info.ID != "dev-1" {
				t.Errorf("id = %q, want dev-1", info.ID)
			}
		})
	}
}

func TestGetDescriptors(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/api/v1/device/model", "/api/v1/device/wifi", "/api/v1/device/mqtt"} {
		w := do(t, srv, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

// ─── Device Run Tests ──────────────────────────────────────────────

func TestSample(t *testing.T) {
	srv, dev := testServer(t)
	dev.state.Flags = []string{"READY", "SAMPLING"}

	w := do(t, srv, http.MethodPost, "/api/v1/device/sample", `{"count":-1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if dev.sampleCount != -1 {
		t.Errorf("count = %d, want -1", dev.sampleCount)
	}

	resp := decode[struct {
		Result json.RawMessage `json:"result"`
		Status []string        `json:"status"`
	}](t, w)
	if string(resp.Result) != `{"boxes":[]}` {
		t.Errorf("result = %s", resp.Result)
	}
	if len(resp.Status) != 2 || resp.Status[1] != "SAMPLING" {
		t.Errorf("status = %v", resp.Status)
	}
}

func TestInvoke_ShowDefaultsTrue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantFilter bool
		wantShow   bool
	}{
		{"defaults", `{"count":1}`, false, true},
		{"explicit", `{"count":1,"filter":true,"show":false}`, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, dev := testServer(t)

			w := do(t, srv, http.MethodPost, "/api/v1/device/invoke", tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if dev.invokeCount != 1 || dev.invokeFilter != tc.wantFilter || dev.invokeShow != tc.wantShow {
				t.Errorf("Invoke(%d, %v, %v), want (1, %v, %v)",
					dev.invokeCount, dev.invokeFilter, dev.invokeShow, tc.wantFilter, tc.wantShow)
			}
		})
	}
}

func TestRunRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"sample missing count", "/api/v1/device/sample", `{}`},
		{"invoke missing count", "/api/v1/device/invoke", `{"filter":true}`},
		{"invalid json", "/api/v1/device/sample", `{count:`},
		{"unknown field", "/api/v1/device/invoke", `{"count":1,"frames":2}`},
		{"threshold missing value", "/api/v1/device/tscore", `{}`},
		{"wifi missing ssid", "/api/v1/device/wifi", `{"password":"x"}`},
		{"mqtt missing address", "/api/v1/device/mqtt/server", `{"port":1883}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := testServer(t)
			method := http.MethodPost
			if strings.HasSuffix(tc.path, "tscore") || strings.HasSuffix(tc.path, "wifi") || strings.Contains(tc.path, "mqtt") {
				method = http.MethodPut
			}

			w := do(t, srv, method, tc.path, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			resp := decode[Error](t, w)
			if resp.Code != ErrCodeBadRequest {
				t.Errorf("code = %q, want %q", resp.Code, ErrCodeBadRequest)
			}
		})
	}
}

func TestBreakAndReset(t *testing.T) {
	srv, dev := testServer(t)

	if w := do(t, srv, http.MethodPost, "/api/v1/device/break", ""); w.Code != http.StatusOK {
		t.Errorf("break status = %d, want 200", w.Code)
	}
	if !dev.broke {
		t.Error("Break was not called")
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/device/reset", ""); w.Code != http.StatusAccepted {
		t.Errorf("reset status = %d, want 202", w.Code)
	}
	if !dev.reset {
		t.Error("Reset was not called")
	}
}

// ─── Device Configuration Tests ────────────────────────────────────

func TestThresholds(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/device/tscore", "")
	if got := decode[map[string]int](t, w)["value"]; got != 50 {
		t.Errorf("tscore = %d, want 50", got)
	}

	w = do(t, srv, http.MethodPut, "/api/v1/device/tiou", `{"value":60}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set tiou status = %d, want 200", w.Code)
	}
	if dev.tiou != 60 {
		t.Errorf("tiou = %d, want 60", dev.tiou)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/device/tiou", "")
	if got := decode[map[string]int](t, w)["value"]; got != 60 {
		t.Errorf("tiou = %d, want 60", got)
	}
}

func TestSetWiFi(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodPut, "/api/v1/device/wifi", `{"ssid":"lab-5g","password":"s3cret","encryption":4}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if dev.wifiSSID != "lab-5g" || dev.wifiPassword != "s3cret" || dev.wifiEnc != device.Encryption(4) {
		t.Errorf("SetWiFi(%q, %q, %d)", dev.wifiSSID, dev.wifiPassword, dev.wifiEnc)
	}
}

func TestSetMQTT(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodPut, "/api/v1/device/mqtt/server",
		`{"client_id":"cam-1","address":"broker.local","port":1883,"username":"u","password":"p","use_ssl":0}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("server status = %d, want 202", w.Code)
	}
	if dev.mqttServer.Address != "broker.local" || dev.mqttServer.Port != 1883 {
		t.Errorf("server = %+v", dev.mqttServer)
	}

	w = do(t, srv, http.MethodPut, "/api/v1/device/mqtt/pubsub",
		`{"pub_topic":"sscma/v0/cam-1/tx","pub_qos":0,"sub_topic":"sscma/v0/cam-1/rx","sub_qos":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("pubsub status = %d, want 200", w.Code)
	}
	if dev.mqttPubSub.SubTopic != "sscma/v0/cam-1/rx" {
		t.Errorf("pubsub = %+v", dev.mqttPubSub)
	}
}

// ─── Error Mapping Tests ───────────────────────────────────────────

func TestWriteDeviceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		deviceCode int
	}{
		{"unavailable", fmt.Errorf("invoke: %w", device.ErrUnavailable), http.StatusConflict, ErrCodeConflict, -1},
		{"invalid argument", device.ErrInvalidArgument, http.StatusBadRequest, ErrCodeValidation, -1},
		{"device status", &protocol.DeviceError{Command: "INVOKE", Code: protocol.CodeEBusy}, http.StatusBadGateway, ErrCodeDevice, int(protocol.CodeEBusy)},
		{"no reply", protocol.ErrNoReply, http.StatusGatewayTimeout, ErrCodeTimeout, -1},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout, -1},
		{"closed", protocol.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable, -1},
		{"send failed", fmt.Errorf("%w: broken pipe", protocol.ErrSendFailed), http.StatusServiceUnavailable, ErrCodeUnavailable, -1},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeDeviceError(w, tc.err)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			resp := decode[Error](t, w)
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
			switch {
			case tc.deviceCode < 0 && resp.DeviceCode != nil:
				t.Errorf("device_code = %d, want absent", *resp.DeviceCode)
			case tc.deviceCode >= 0 && (resp.DeviceCode == nil || *resp.DeviceCode != tc.deviceCode):
				t.Errorf("device_code = %v, want %d", resp.DeviceCode, tc.deviceCode)
			}
		})
	}
}

func TestDeviceErrorThroughHandler(t *testing.T) {
	srv, dev := testServer(t)
	dev.err = fmt.Errorf("sample: %w", device.ErrUnavailable)

	w := do(t, srv, http.MethodPost, "/api/v1/device/sample", `{"count":1}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// ─── History Tests ─────────────────────────────────────────────────

func TestHistory_Disabled(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/api/v1/history/events", "/api/v1/history/logs", "/api/v1/history/sessions"} {
		w := do(t, srv, http.MethodGet, path, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, w.Code)
		}
	}
}

func TestHistory_Events(t *testing.T) {
	repo := &fakeHistory{events: []history.Event{
		{ID: 2, DeviceID: "dev-1", Name: "INVOKE", Data: json.RawMessage(`{"boxes":[]}`)},
		{ID: 1, DeviceID: "dev-1", Name: "INVOKE"},
	}}
	srv, _ := testServerWith(t, Deps{History: repo})

	w := do(t, srv, http.MethodGet, "/api/v1/history/events?name=INVOKE&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if repo.filter.Name != "INVOKE" || repo.filter.Limit != 10 {
		t.Errorf("filter = %+v", repo.filter)
	}
	resp := decode[struct {
		Events []history.Event `json:"events"`
		Count  int             `json:"count"`
	}](t, w)
	if resp.Count != 2 || len(resp.Events) != 2 {
		t.Errorf("count = %d, events = %d, want 2", resp.Count, len(resp.Events))
	}
}

func TestHistory_LogsAndSessions(t *testing.T) {
	repo := &fakeHistory{
		logs:     []history.LogLine{{ID: 1, Message: "sensor ready"}},
		sessions: []history.Session{{ID: "s-1", DeviceID: "dev-1"}},
	}
	srv, _ := testServerWith(t, Deps{History: repo})

	w := do(t, srv, http.MethodGet, "/api/v1/history/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status = %d, want 200", w.Code)
	}
	if repo.filter.Limit != defaultHistoryLimit {
		t.Errorf("limit = %d, want %d", repo.filter.Limit, defaultHistoryLimit)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/history/sessions?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", w.Code)
	}
	if got := decode[map[string]any](t, w)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestHistory_QueryFailure(t *testing.T) {
	srv, _ := testServerWith(t, Deps{History: &fakeHistory{err: errors.New("disk I/O error")}})

	w := do(t, srv, http.MethodGet, "/api/v1/history/events", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"500", 500, false},
		{"501", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := parseHistoryLimit(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseHistoryLimit(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("parseHistoryLimit(%q) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}

// ─── System and Metrics Tests ──────────────────────────────────────

func TestSystem(t *testing.T) {
	srv, dev := testServerWith(t, Deps{
		Engine: fakeEngine{stats: protocol.Stats{FramesRx: 12, CommandsTx: 4, Pending: 1}},
		MQTT:   fakeBroker{connected: true},
	})
	dev.state.LastEvent = time.Now().Add(-2 * time.Second)

	w := do(t, srv, http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	m := decode[SystemMetrics](t, w)
	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Engine == nil || m.Engine.FramesRx != 12 || m.Engine.Pending != 1 {
		t.Errorf("engine = %+v", m.Engine)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want connected", m.MQTT)
	}
	if m.Database != nil {
		t.Errorf("database = %+v, want omitted", m.Database)
	}
	if m.Device.LastEventAgeSec == nil || *m.Device.LastEventAgeSec < 2 {
		t.Errorf("last_event_age_seconds = %v, want >= 2", m.Device.LastEventAgeSec)
	}
	if m.Device.LastAliveAgeSec != nil {
		t.Errorf("last_alive_age_seconds = %v, want omitted", *m.Device.LastAliveAgeSec)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := protocol.NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	srv, _ := testServerWith(t, Deps{Gatherer: reg})

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sscma_protocol_commands_total") {
		t.Errorf("metrics body missing engine counter:\n%s", w.Body.String())
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, ChannelMonitor)
	hub.Register(client)

	hub.OnMonitor(device.MonitorEvent{DeviceID: "dev-1", Name: "INVOKE", Data: json.RawMessage(`{"boxes":[]}`)})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelMonitor {
			t.Errorf("message = %s/%s, want event/%s", wsMsg.Type, wsMsg.EventType, ChannelMonitor)
		}
		payload, _ := wsMsg.Payload.(map[string]any) //nolint:errcheck // checked below
		if payload["name"] != "INVOKE" {
			t.Errorf("payload name = %v, want INVOKE", payload["name"])
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, ChannelLog)
	hub.Register(client)

	hub.OnConnect(device.ConnectEvent{SessionID: "s-1"})
	hub.OnDisconnect(device.DisconnectEvent{SessionID: "s-1", Reason: "reset"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ObserverChannels(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := newTestClient(hub, ChannelConnected, ChannelDisconnected, ChannelMonitor, ChannelLog)
	hub.Register(client)

	var obs device.Observer = hub
	obs.OnConnect(device.ConnectEvent{SessionID: "s-1"})
	obs.OnMonitor(device.MonitorEvent{Name: "SAMPLE"})
	obs.OnLog(device.LogEntry{Message: "hello"})
	obs.OnDisconnect(device.DisconnectEvent{SessionID: "s-1"})

	want := []string{ChannelConnected, ChannelMonitor, ChannelLog, ChannelDisconnected}
	for i, ch := range want {
		select {
		case msg := <-client.send:
			var wsMsg WSMessage
			if err := json.Unmarshal(msg, &wsMsg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if wsMsg.EventType != ch {
				t.Errorf("message %d event_type = %q, want %q", i, wsMsg.EventType, ch)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", ch)
		}
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{ChannelLog: {}},
	}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for range 10 {
			hub.OnLog(device.LogEntry{Message: "spam"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)
	srv.hub = nil

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if srv.Hub() == nil {
		t.Error("Start() should create a hub")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

// connectWebSocket serves the router over httptest and dials /api/v1/ws.
func connectWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelMonitor}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("response = %s/%s, want response/sub-1", resp.Type, resp.ID)
	}
	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	srv.hub.OnMonitor(device.MonitorEvent{Name: "INVOKE", Code: 0})

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelMonitor {
		t.Errorf("event = %s/%s, want event/%s", event.Type, event.EventType, ChannelMonitor)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	for _, msg := range []WSMessage{
		{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: []string{ChannelLog, ChannelMonitor}}},
		{Type: WSTypeUnsubscribe, ID: "unsub-1", Payload: WSSubscribePayload{Channels: []string{ChannelLog}}},
	} {
		if err := ws.WriteJSON(msg); err != nil {
			t.Fatalf("write %s: %v", msg.Type, err)
		}
		if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != msg.ID {
			t.Errorf("response = %s/%s, want response/%s", resp.Type, resp.ID, msg.ID)
		}
	}

	srv.hub.OnLog(device.LogEntry{Message: "dropped"})
	srv.hub.OnMonitor(device.MonitorEvent{Name: "SAMPLE"})

	if event := readWS(t, ws); event.EventType != ChannelMonitor {
		t.Errorf("event_type = %q, want %q", event.EventType, ChannelMonitor)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %s/%s, want pong/ping-1", resp.Type, resp.ID)
	}
}

func TestWebSocket_BadMessages(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("invalid JSON response type = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "x-1"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError || resp.ID != "x-1" {
		t.Errorf("unknown type response = %s/%s, want error/x-1", resp.Type, resp.ID)
	}
}

func TestWebSocket_RejectsUnknownChannel(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-bad",
		Payload: WSSubscribePayload{Channels: []string{ChannelMonitor, "device.secrets"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeError || resp.ID != "sub-bad" {
		t.Errorf("response = %s/%s, want error/sub-bad", resp.Type, resp.ID)
	}
}

func TestWSTimings(t *testing.T) {
	ping, pong := wsTimings(config.WebSocketConfig{})
	if ping != defaultWSPingInterval || pong != defaultWSPongTimeout {
		t.Errorf("wsTimings(zero) = %v, %v", ping, pong)
	}

	ping, pong = wsTimings(testWSConfig())
	if ping != 30*time.Second || pong != 10*time.Second {
		t.Errorf("wsTimings(test) = %v, %v", ping, pong)
	}
}

func TestWSClient_SendAfterShutdown(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := newTestClient(hub, ChannelLog)
	hub.Register(client)
	hub.Unregister(client)

	// Must not panic on the closed queue.
	hub.OnLog(device.LogEntry{Message: "late"})
	client.sendError("x", "late")
}
