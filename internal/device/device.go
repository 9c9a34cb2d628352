package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sscma-core/internal/protocol"
)

// Default timing for the device lifecycle.
const (
	// DefaultTimeout is how long a sampling or invoking run may stay silent
	// before the health loop re-issues it.
	DefaultTimeout = 10 * time.Second

	// DefaultIdentityTimeout bounds the "ID?" probe.
	DefaultIdentityTimeout = 500 * time.Millisecond

	// DefaultHeartbeat is the health loop interval.
	DefaultHeartbeat = time.Second

	// DefaultKeepalive is the silence tolerated before probing the device.
	DefaultKeepalive = 60 * time.Second

	// DefaultRetryDelay is the pause before retrying a failed initialize.
	DefaultRetryDelay = 5 * time.Second
)

// Engine is the command surface the device drives.
// *protocol.Client satisfies it.
type Engine interface {
	Set(ctx context.Context, cmd, value string, opts ...protocol.CallOption) (*protocol.Message, error)
	Get(ctx context.Context, cmd string, opts ...protocol.CallOption) (*protocol.Message, error)
	Execute(ctx context.Context, cmd string, opts ...protocol.CallOption) (*protocol.Message, error)
	SetEventHandler(h protocol.Handler)
	SetLogHandler(h protocol.Handler)
	Close() error
}

// Transport is the lifecycle half of the byte link.
type Transport interface {
	Connect(ctx context.Context) error
	StartReceiving() error
	StopReceiving() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Device. Zero durations select the defaults.
type Options struct {
	Timeout         time.Duration
	IdentityTimeout time.Duration
	Heartbeat       time.Duration
	Keepalive       time.Duration
	RetryDelay      time.Duration

	// Observer receives lifecycle and event notifications. Optional.
	Observer Observer

	// NotifyQueueSize bounds undelivered notifications. Default 256.
	NotifyQueueSize int

	Logger Logger
}

// intent is the last accepted sampling or invoking request.
type intent struct {
	op     Operation
	count  int
	filter bool
	show   bool
}

// State is a point-in-time copy of the device.
type State struct {
	Status          Status     `json:"-"`
	Flags           []string   `json:"status"`
	SessionID       string     `json:"session_id,omitempty"`
	RemainingSample int        `json:"remaining_sample"`
	RemainingInvoke int        `json:"remaining_invoke"`
	LastEvent       time.Time  `json:"last_event"`
	LastAlive       time.Time  `json:"last_alive"`
	Info            *Info      `json:"info,omitempty"`
	Model           *ModelInfo `json:"model,omitempty"`
	WiFi            *WiFiInfo  `json:"wifi,omitempty"`
	MQTT            *MQTTInfo  `json:"mqtt,omitempty"`
}

// Device is the SSCMA device state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Reset, initialization and the retry timer are serialized.
type Device struct {
	engine    Engine
	transport Transport
	opts      Options
	logger    Logger
	notifier  *notifier

	// lifeMu serializes Reset and initialize. Never held by readers.
	lifeMu sync.Mutex

	mu              sync.Mutex
	status          Status
	remainingSample int
	remainingInvoke int
	intent          intent
	info            *Info
	model           *ModelInfo
	wifi            *WiFiInfo
	mqtt            *MQTTInfo
	wifiChanged     bool
	mqttChanged     bool
	lastEvent       time.Time
	lastAlive       time.Time
	sessionID       string
	retryTimer      *time.Timer
	started         bool
	stopping        bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a device over engine and transport. Call Start to run it.
func New(engine Engine, transport Transport, opts Options) *Device {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.IdentityTimeout <= 0 {
		opts.IdentityTimeout = DefaultIdentityTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		engine:    engine,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
		notifier:  newNotifier(opts.Observer, opts.NotifyQueueSize, opts.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects the transport, starts the health loop and initializes
// the device. An unresponsive device is not an error: initialization is
// retried in the background until it succeeds or Stop is called.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.stopping:
		d.mu.Unlock()
		return ErrStopped
	case d.started:
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	if err := d.transport.Connect(ctx); err != nil {
		d.clearStarted()
		return fmt.Errorf("connecting transport: %w", err)
	}
	if err := d.transport.StartReceiving(); err != nil {
		d.clearStarted()
		return fmt.Errorf("starting receive loop: %w", err)
	}

	d.wg.Add(1)
	go d.healthLoop()

	d.initialize()
	return nil
}

// clearStarted lets Start be retried after a failed connect.
func (d *Device) clearStarted() {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// Stop shuts the device down. Safe to call multiple times and from
// observer callbacks. A stopped device cannot be restarted.
func (d *Device) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		if d.retryTimer != nil {
			d.retryTimer.Stop()
			d.retryTimer = nil
		}
		d.mu.Unlock()

		d.cancel()
		d.wg.Wait()

		if err := d.transport.StopReceiving(); err != nil {
			d.logWarn("stopping receive loop failed", "error", err)
		}
		if err := d.engine.Close(); err != nil {
			d.logWarn("closing protocol engine failed", "error", err)
		}

		d.toUnknown("stopped")
		d.notifier.stop()
		d.logInfo("device stopped")
	})
}

func (d *Device) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

// Status returns the current status flags.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Ready reports whether the device is READY.
func (d *Device) Ready() bool {
	return d.Status().Has(StatusReady)
}

// Snapshot returns a copy of the device state.
func (d *Device) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := State{
		Status:          d.status,
		Flags:           d.status.Flags(),
		SessionID:       d.sessionID,
		RemainingSample: d.remainingSample,
		RemainingInvoke: d.remainingInvoke,
		LastEvent:       d.lastEvent,
		LastAlive:       d.lastAlive,
	}
	if d.info != nil {
		info := *d.info
		s.Info = &info
	}
	if d.model != nil {
		model := *d.model
		s.Model = &model
	}
	if d.wifi != nil {
		wifi := *d.wifi
		s.WiFi = &wifi
	}
	if d.mqtt != nil {
		mqtt := *d.mqtt
		s.MQTT = &mqtt
	}
	return s
}

func (d *Device) updateStatus(set, clear Status) {
	d.mu.Lock()
	d.status = d.status.with(set, clear)
	d.mu.Unlock()
}

// require fails with ErrUnavailable when op is not permitted right now.
func (d *Device) require(op Operation) error {
	status := d.Status()
	if Can(op, status) {
		return nil
	}
	d.logDebug("operation unavailable", "operation", op.String(), "status", status.String())
	return fmt.Errorf("%w: %s requires %s, status is %s", ErrUnavailable, op, Requirement(op), status)
}

// ===== Lifecycle =====

// initialize brings the device to READY. Failures schedule a retry.
func (d *Device) initialize() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	d.initializeLocked()
}

func (d *Device) initializeLocked() {
	if d.isStopping() || d.Ready() {
		return
	}
	ctx := d.ctx

	if _, err := d.engine.Execute(ctx, protocol.CmdBreak); err != nil {
		d.logWarn("break before initialize failed", "error", err)
	}
	d.updateStatus(0, StatusSampling|StatusInvoking)

	info, err := d.fetchInfo(ctx)
	if err != nil {
		d.mu.Lock()
		d.status = StatusUnknown
		d.mu.Unlock()
		d.logWarn("device not responding, will retry", "error", err, "retry_in", d.opts.RetryDelay.String())
		d.scheduleRetry()
		return
	}

	d.engine.SetEventHandler(d.handleEvent)
	d.engine.SetLogHandler(d.handleLog)

	if _, err := d.fetchWiFi(ctx); err != nil {
		d.logWarn("fetching wifi descriptor failed", "error", err)
	}
	if _, err := d.fetchMQTT(ctx); err != nil {
		d.logWarn("fetching mqtt descriptor failed", "error", err)
	}
	if _, err := d.fetchModel(ctx); err != nil {
		d.logWarn("fetching model descriptor failed", "error", err)
	}

	now := time.Now()
	session := uuid.NewString()

	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return
	}
	d.info = info
	d.status |= StatusReady
	d.lastEvent = now
	d.lastAlive = now
	d.sessionID = session
	d.mu.Unlock()

	d.logInfo("device ready", "device_id", info.ID, "name", info.Name, "version", info.Version, "session_id", session)

	event := ConnectEvent{SessionID: session, Info: *info, Time: now}
	d.notifier.post(func(o Observer) { o.OnConnect(event) })
}

func (d *Device) scheduleRetry() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopping {
		return
	}
	if d.retryTimer != nil {
		d.retryTimer.Stop()
	}
	d.retryTimer = time.AfterFunc(d.opts.RetryDelay, d.initialize)
}

// toUnknown forces UNKNOWN, clears run counts and notifies a disconnect
// if the device was READY.
func (d *Device) toUnknown(reason string) {
	d.mu.Lock()
	wasReady := d.status.Has(StatusReady)
	event := DisconnectEvent{SessionID: d.sessionID, Reason: reason, Time: time.Now()}
	if d.info != nil {
		event.DeviceID = d.info.ID
	}
	d.status = StatusUnknown
	d.remainingSample = 0
	d.remainingInvoke = 0
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}
	d.mu.Unlock()

	if wasReady {
		d.notifier.post(func(o Observer) { o.OnDisconnect(event) })
	}
}

// Reset reboots the device and re-runs initialization.
func (d *Device) Reset(ctx context.Context) error {
	return d.reset(ctx, "reset requested")
}

// resetAsync marks the device UNKNOWN and reboots it in the background.
// Stop waits for a pending reset.
func (d *Device) resetAsync(reason string) {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.toUnknown(reason)
	go func() {
		defer d.wg.Done()
		if err := d.reset(d.ctx, reason); err != nil {
			d.logWarn("background reset failed", "reason", reason, "error", err)
		}
	}()
}

func (d *Device) reset(ctx context.Context, reason string) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.isStopping() {
		return nil
	}
	d.logInfo("resetting device", "reason", reason)

	d.toUnknown(reason)

	_, err := d.engine.Execute(ctx, protocol.CmdReset)
	if err != nil {
		d.logWarn("sending reset failed", "error", err)
	}

	d.initializeLocked()
	return err
}

// Break halts any sampling or invoking run.
func (d *Device) Break(ctx context.Context) error {
	if _, err := d.engine.Execute(ctx, protocol.CmdBreak); err != nil {
		return err
	}
	d.mu.Lock()
	d.status &^= StatusSampling | StatusInvoking
	d.remainingSample = 0
	d.remainingInvoke = 0
	d.mu.Unlock()
	return nil
}

// ===== Descriptors =====

// fetchInfo queries ID, NAME and VER. Any empty value fails.
func (d *Device) fetchInfo(ctx context.Context) (*Info, error) {
	id, err := d.identityField(ctx, protocol.CmdID, protocol.WithTimeout(d.opts.IdentityTimeout))
	if err != nil {
		return nil, err
	}
	name, err := d.identityField(ctx, protocol.CmdName)
	if err != nil {
		return nil, err
	}
	version, err := d.identityField(ctx, protocol.CmdVersion)
	if err != nil {
		return nil, err
	}
	return &Info{ID: id, Name: name, Version: version}, nil
}

func (d *Device) identityField(ctx context.Context, cmd string, opts ...protocol.CallOption) (string, error) {
	reply, err := d.engine.Get(ctx, cmd, opts...)
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", cmd, err)
	}
	value := reply.DataString()
	if !reply.HasData() || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNoIdentity, cmd)
	}
	return value, nil
}

// get sends a query and converts a non-OK code to an error.
func (d *Device) get(ctx context.Context, cmd string, opts ...protocol.CallOption) (*protocol.Message, error) {
	reply, err := d.engine.Get(ctx, cmd, opts...)
	if err != nil {
		return nil, err
	}
	if err := reply.Code.Err(cmd); err != nil {
		return nil, err
	}
	return reply, nil
}

// linkFlags maps a reported link state onto the connecting/connected pair.
// Anything short of up counts as connecting.
func linkFlags(state int, connecting, connected Status) (set, clear Status) {
	if state == LinkUp {
		return connected, connecting
	}
	return connecting, connected
}

func (d *Device) fetchWiFi(ctx context.Context) (*WiFiInfo, error) {
	reply, err := d.get(ctx, protocol.CmdWiFi)
	if err != nil {
		return nil, err
	}
	var wifi WiFiInfo
	if err := reply.DecodeData(&wifi); err != nil {
		return nil, err
	}

	set, clear := linkFlags(wifi.Status, StatusWiFiConnecting, StatusWiFiConnected)
	d.mu.Lock()
	d.status = d.status.with(set, clear)
	d.wifi = &wifi
	d.wifiChanged = false
	d.mu.Unlock()
	return &wifi, nil
}

func (d *Device) fetchMQTT(ctx context.Context) (*MQTTInfo, error) {
	server, err := d.get(ctx, protocol.CmdMQTTServer)
	if err != nil {
		return nil, err
	}
	var info MQTTInfo
	if err := server.DecodeData(&info.Server); err != nil {
		return nil, err
	}

	pubsub, err := d.get(ctx, protocol.CmdMQTTPubSub)
	if err != nil {
		return nil, err
	}
	if err := pubsub.DecodeData(&info.PubSub); err != nil {
		return nil, err
	}

	set, clear := linkFlags(info.Server.Status, StatusMQTTConnecting, StatusMQTTConnected)
	d.mu.Lock()
	d.status = d.status.with(set, clear)
	d.mqtt = &info
	d.mqttChanged = false
	d.mu.Unlock()
	return &info, nil
}

func (d *Device) fetchModel(ctx context.Context) (*ModelInfo, error) {
	reply, err := d.get(ctx, protocol.CmdInfo, protocol.WithTag(false))
	if err != nil {
		return nil, err
	}
	model, err := parseModelInfo(reply.Data)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.model = model
	d.mu.Unlock()
	return model, nil
}

// Info returns the identity descriptor, querying the device when not
// cached or when skipCache is set.
func (d *Device) Info(ctx context.Context, skipCache bool) (*Info, error) {
	if err := d.require(OpInfo); err != nil {
		return nil, err
	}
	d.mu.Lock()
	cached := d.info
	d.mu.Unlock()
	if cached != nil && !skipCache {
		info := *cached
		return &info, nil
	}

	info, err := d.fetchInfo(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.info = info
	d.mu.Unlock()
	result := *info
	return &result, nil
}

// Model returns the loaded model descriptor.
func (d *Device) Model(ctx context.Context, skipCache bool) (*ModelInfo, error) {
	if err := d.require(OpModel); err != nil {
		return nil, err
	}
	d.mu.Lock()
	cached := d.model
	d.mu.Unlock()
	if cached != nil && !skipCache {
		model := *cached
		return &model, nil
	}
	return d.fetchModel(ctx)
}

// WiFi returns the WiFi descriptor. The cache is bypassed after SetWiFi
// and while the link is not up.
func (d *Device) WiFi(ctx context.Context, skipCache bool) (*WiFiInfo, error) {
	if err := d.require(OpWiFi); err != nil {
		return nil, err
	}
	d.mu.Lock()
	cached := d.wifi
	fresh := cached != nil && !skipCache && !d.wifiChanged && d.status.Has(StatusWiFiConnected)
	d.mu.Unlock()
	if fresh {
		wifi := *cached
		return &wifi, nil
	}
	return d.fetchWiFi(ctx)
}

// MQTT returns the MQTT descriptor. The cache is bypassed after
// SetMQTTServer or SetMQTTPubSub and while the broker link is not up.
func (d *Device) MQTT(ctx context.Context, skipCache bool) (*MQTTInfo, error) {
	if err := d.require(OpMQTT); err != nil {
		return nil, err
	}
	d.mu.Lock()
	cached := d.mqtt
	fresh := cached != nil && !skipCache && !d.mqttChanged && d.status.Has(StatusMQTTConnected)
	d.mu.Unlock()
	if fresh {
		mqtt := *cached
		return &mqtt, nil
	}
	return d.fetchMQTT(ctx)
}

// ===== Sampling and Invoking =====

// Sample starts capturing count frames without inference.
// -1 samples indefinitely and 0 stops.
func (d *Device) Sample(ctx context.Context, count int) (json.RawMessage, error) {
	if err := d.require(OpSample); err != nil {
		return nil, err
	}
	if count < -1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidArgument, count)
	}
	return d.run(ctx, intent{op: OpSample, count: count})
}

// Invoke starts count inference runs. -1 runs indefinitely and 0 stops.
// filter suppresses unchanged results; show attaches the image.
func (d *Device) Invoke(ctx context.Context, count int, filter, show bool) (json.RawMessage, error) {
	if err := d.require(OpInvoke); err != nil {
		return nil, err
	}
	if count < -1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidArgument, count)
	}

	d.mu.Lock()
	haveModel := d.model != nil
	d.mu.Unlock()
	if !haveModel {
		if _, err := d.fetchModel(ctx); err != nil {
			d.logWarn("fetching model before invoke failed", "error", err)
		}
	}

	return d.run(ctx, intent{op: OpInvoke, count: count, filter: filter, show: show})
}

// run sends a sample or invoke request and applies the result.
func (d *Device) run(ctx context.Context, in intent) (json.RawMessage, error) {
	cmd, value := protocol.CmdSample, fmt.Sprint(in.count)
	flag, other := StatusSampling, StatusInvoking
	if in.op == OpInvoke {
		cmd, value = protocol.CmdInvoke, invokeValue(in.count, in.filter, in.show)
		flag, other = StatusInvoking, StatusSampling
	}

	reply, err := d.engine.Set(ctx, cmd, value)
	if err != nil {
		return nil, err
	}
	if err := reply.Code.Err(cmd); err != nil {
		d.logError("device rejected command", "command", cmd, "code", int(reply.Code), "status", reply.Code.String())
		d.resetAsync(cmd + " failed: " + reply.Code.String())
		return nil, err
	}

	d.mu.Lock()
	// Stopping the idle kind must not replace the running intent.
	if in.count != 0 || d.intent.op == in.op {
		d.intent = in
	}
	if in.op == OpInvoke {
		d.remainingInvoke = in.count
	} else {
		d.remainingSample = in.count
	}
	if in.count != 0 {
		d.status = d.status.with(flag, other)
		d.lastEvent = time.Now()
	} else {
		d.status &^= flag
	}
	d.mu.Unlock()

	return reply.Data, nil
}

// SampleStatus returns the device's current sample setting.
func (d *Device) SampleStatus(ctx context.Context) (json.RawMessage, error) {
	if err := d.require(OpSample); err != nil {
		return nil, err
	}
	reply, err := d.get(ctx, protocol.CmdSample)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// InvokeStatus returns the device's current invoke setting.
func (d *Device) InvokeStatus(ctx context.Context) (json.RawMessage, error) {
	if err := d.require(OpInvoke); err != nil {
		return nil, err
	}
	reply, err := d.get(ctx, protocol.CmdInvoke)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// ===== Thresholds =====

func (d *Device) threshold(ctx context.Context, op Operation, cmd string) (int, error) {
	if err := d.require(op); err != nil {
		return 0, err
	}
	reply, err := d.get(ctx, cmd)
	if err != nil {
		return 0, err
	}
	var value int
	if err := reply.DecodeData(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func (d *Device) setThreshold(ctx context.Context, op Operation, cmd string, value int) error {
	if err := d.require(op); err != nil {
		return err
	}
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: %s %d outside 0..100", ErrInvalidArgument, cmd, value)
	}
	reply, err := d.engine.Set(ctx, cmd, fmt.Sprint(value))
	if err != nil {
		return err
	}
	return reply.Code.Err(cmd)
}

// TScore returns the score threshold (0..100). Requires READY|INVOKING.
func (d *Device) TScore(ctx context.Context) (int, error) {
	return d.threshold(ctx, OpTScore, protocol.CmdTScore)
}

// SetTScore sets the score threshold.
func (d *Device) SetTScore(ctx context.Context, value int) error {
	return d.setThreshold(ctx, OpTScore, protocol.CmdTScore, value)
}

// TIoU returns the IoU threshold (0..100). Requires READY|INVOKING.
func (d *Device) TIoU(ctx context.Context) (int, error) {
	return d.threshold(ctx, OpTIoU, protocol.CmdTIoU)
}

// SetTIoU sets the IoU threshold.
func (d *Device) SetTIoU(ctx context.Context, value int) error {
	return d.setThreshold(ctx, OpTIoU, protocol.CmdTIoU, value)
}

// ===== Network Configuration =====

// SetWiFi configures the device's WiFi network.
func (d *Device) SetWiFi(ctx context.Context, ssid, password string, enc Encryption) error {
	if err := d.require(OpSetWiFi); err != nil {
		return err
	}
	if !enc.Valid() {
		return fmt.Errorf("%w: encryption %d", ErrInvalidArgument, enc)
	}

	d.mu.Lock()
	d.wifiChanged = true
	d.mu.Unlock()

	reply, err := d.engine.Set(ctx, protocol.CmdWiFi, setWiFiValue(ssid, password, enc))
	if err != nil {
		return err
	}
	if err := reply.Code.Err(protocol.CmdWiFi); err != nil {
		return err
	}
	d.updateStatus(StatusWiFiConnecting, 0)
	return nil
}

// SetMQTTServer configures the broker the device publishes to.
func (d *Device) SetMQTTServer(ctx context.Context, server MQTTServer) error {
	if err := d.require(OpSetMQTTServer); err != nil {
		return err
	}
	if server.Port == 0 {
		server.Port = 1883
	}

	d.mu.Lock()
	d.mqttChanged = true
	d.mu.Unlock()

	reply, err := d.engine.Set(ctx, protocol.CmdMQTTServer, setMQTTServerValue(server))
	if err != nil {
		return err
	}
	if err := reply.Code.Err(protocol.CmdMQTTServer); err != nil {
		return err
	}
	d.updateStatus(StatusMQTTConnecting, 0)
	return nil
}

// SetMQTTPubSub configures the device's publish and subscribe topics.
func (d *Device) SetMQTTPubSub(ctx context.Context, pubsub MQTTPubSub) error {
	if err := d.require(OpSetMQTTPubSub); err != nil {
		return err
	}
	for _, qos := range []int{pubsub.PubQoS, pubsub.SubQoS} {
		if qos < 0 || qos > 2 {
			return fmt.Errorf("%w: qos %d", ErrInvalidArgument, qos)
		}
	}

	d.mu.Lock()
	d.mqttChanged = true
	d.mu.Unlock()

	reply, err := d.engine.Set(ctx, protocol.CmdMQTTPubSub, setMQTTPubSubValue(pubsub))
	if err != nil {
		return err
	}
	return reply.Code.Err(protocol.CmdMQTTPubSub)
}

// ===== Logging helpers =====

func (d *Device) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Device) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Device) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}

func (d *Device) logError(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
