package device

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sscma-core/internal/protocol"
)

// ===== Simulated Device =====

// simDevice answers AT command lines the way SSCMA firmware does.
type simDevice struct {
	mu      sync.Mutex
	client  *protocol.Client
	lines   []string
	id      string
	name    string
	version string
	wifi    int
	mqtt    int
	model   string
	codes   map[string]protocol.Code
	silent  map[string]bool
	tscore  int
}

func newSimDevice() *simDevice {
	info := `{"uuid":"60086","name":"Person Detection","version":"1.0.0","catagory":"Object Detection","model_type":"TFLite","algoritm":"YOLOv8","description":"persons","image":"","author":"Seeed","token":"","classes":["person"]}`
	return &simDevice{
		id:      "6a1f4ab2",
		name:    "Grove Vision AI V2",
		version: "2024.01.15",
		wifi:    LinkUp,
		mqtt:    LinkDown,
		model:   base64.StdEncoding.EncodeToString([]byte(info)),
		codes:   make(map[string]protocol.Code),
		silent:  make(map[string]bool),
		tscore:  45,
	}
}

// command strips prefix and tag: "AT+AB12CD@SAMPLE=3" -> "SAMPLE", "3", "=".
func parseLine(line string) (cmd, value, kind string) {
	body := strings.TrimPrefix(line, "AT+")
	if i := strings.IndexByte(body, '@'); i >= 0 {
		body = body[i+1:]
	}
	switch {
	case strings.Contains(body, "="):
		parts := strings.SplitN(body, "=", 2)
		return parts[0], parts[1], "="
	case strings.HasSuffix(body, "?"):
		return strings.TrimSuffix(body, "?"), "", "?"
	default:
		return body, "", ""
	}
}

func (s *simDevice) Write(data []byte) error {
	line := strings.TrimSuffix(string(data), "\r\n")

	s.mu.Lock()
	s.lines = append(s.lines, line)
	cmd, value, kind := parseLine(line)
	key := cmd + kind
	if s.silent[key] || s.silent[cmd] {
		s.mu.Unlock()
		return nil
	}
	code := s.codes[key]
	payload := s.payload(cmd, value, kind)
	s.mu.Unlock()

	if cmd == protocol.CmdBreak || cmd == protocol.CmdReset {
		return nil
	}
	s.client.HandleBytes([]byte(fmt.Sprintf("\r{\"type\":0,\"name\":%q,\"code\":%d,\"data\":%s}\n",
		protocol.ExpectedName(line), int(code), payload)))
	return nil
}

func (s *simDevice) payload(cmd, value, kind string) string {
	switch cmd + kind {
	case "ID?":
		return fmt.Sprintf("%q", s.id)
	case "NAME?":
		return fmt.Sprintf("%q", s.name)
	case "VER?":
		return fmt.Sprintf("%q", s.version)
	case "WIFI?":
		return fmt.Sprintf(`{"status":%d,"in4_info":{"ip":"192.168.1.20","netmask":"255.255.255.0","gateway":"192.168.1.1"},"config":{"name_type":0,"name":"lab","security":3,"password":"*******"}}`, s.wifi)
	case "MQTTSERVER?":
		return fmt.Sprintf(`{"status":%d,"config":{"client_id":"sscma_cam","address":"broker.lab","port":1883,"username":"","password":"","use_ssl":0}}`, s.mqtt)
	case "MQTTPUBSUB?":
		return `{"config":{"pub_topic":"sscma/v0/sscma_cam/tx","pub_qos":0,"sub_topic":"sscma/v0/sscma_cam/rx","sub_qos":0}}`
	case "INFO?":
		return fmt.Sprintf(`{"crc16":1234,"info":%q}`, s.model)
	case "TSCORE?":
		return fmt.Sprint(s.tscore)
	case "SAMPLE?", "INVOKE?":
		return "0"
	case "SAMPLE=", "INVOKE=", "TSCORE=", "TIOU=":
		return "1"
	default:
		return `""`
	}
}

func (s *simDevice) set(fn func(s *simDevice)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *simDevice) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *simDevice) ClearLines() {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
}

// Count returns how many written lines carry cmd with the given kind.
func (s *simDevice) Count(cmd, kind string) int {
	n := 0
	for _, line := range s.Lines() {
		c, _, k := parseLine(line)
		if c == cmd && k == kind {
			n++
		}
	}
	return n
}

// emit injects an unsolicited event frame.
func (s *simDevice) emit(name string, code protocol.Code, data string) {
	s.client.HandleBytes([]byte(fmt.Sprintf("\r{\"type\":1,\"name\":%q,\"code\":%d,\"data\":%s}\n", name, int(code), data)))
}

// fakeTransport records lifecycle calls.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	receiving  bool
	connectErr error
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) StartReceiving() error {
	f.mu.Lock()
	f.receiving = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) StopReceiving() error {
	f.mu.Lock()
	f.receiving = false
	f.mu.Unlock()
	return nil
}

// recorder is an Observer that keeps every notification.
type recorder struct {
	mu          sync.Mutex
	connects    []ConnectEvent
	disconnects []DisconnectEvent
	monitors    []MonitorEvent
	logs        []LogEntry
}

func (r *recorder) OnConnect(e ConnectEvent) {
	r.mu.Lock()
	r.connects = append(r.connects, e)
	r.mu.Unlock()
}

func (r *recorder) OnDisconnect(e DisconnectEvent) {
	r.mu.Lock()
	r.disconnects = append(r.disconnects, e)
	r.mu.Unlock()
}

func (r *recorder) OnMonitor(e MonitorEvent) {
	r.mu.Lock()
	r.monitors = append(r.monitors, e)
	r.mu.Unlock()
}

func (r *recorder) OnLog(e LogEntry) {
	r.mu.Lock()
	r.logs = append(r.logs, e)
	r.mu.Unlock()
}

func (r *recorder) counts() (connects, disconnects, monitors, logs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects), len(r.disconnects), len(r.monitors), len(r.logs)
}

type harness struct {
	dev       *Device
	sim       *simDevice
	client    *protocol.Client
	transport *fakeTransport
	observer  *recorder
}

// fastOptions keeps every timer short enough for unit tests.
func fastOptions() Options {
	return Options{
		Timeout:         time.Hour,
		IdentityTimeout: 50 * time.Millisecond,
		Heartbeat:       time.Hour,
		Keepalive:       time.Hour,
		RetryDelay:      20 * time.Millisecond,
	}
}

// newHarness builds a device over a simulated firmware. It is not started.
func newHarness(t *testing.T, opts Options, configure ...func(*simDevice)) *harness {
	t.Helper()

	sim := newSimDevice()
	for _, fn := range configure {
		fn(sim)
	}
	client := protocol.NewClient(sim, protocol.Options{Timeout: 50 * time.Millisecond, TryCount: 2})
	sim.client = client

	obs := &recorder{}
	if opts.Observer == nil {
		opts.Observer = obs
	}
	transport := &fakeTransport{}
	dev := New(client, transport, opts)
	t.Cleanup(dev.Stop)

	return &harness{dev: dev, sim: sim, client: client, transport: transport, observer: obs}
}

// startReady starts the harness device and requires READY.
func startReady(t *testing.T, opts Options, configure ...func(*simDevice)) *harness {
	t.Helper()
	h := newHarness(t, opts, configure...)
	if err := h.dev.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.dev.Ready() {
		t.Fatalf("device not READY after Start, status %s", h.dev.Status())
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
