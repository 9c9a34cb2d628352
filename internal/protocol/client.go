package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for the command engine.
const (
	// DefaultTimeout is how long one attempt waits for its reply.
	DefaultTimeout = 10 * time.Second

	// DefaultTryCount is the number of attempts per command.
	DefaultTryCount = 3

	// DefaultEventQueueSize is the dispatch queue depth for events and logs.
	DefaultEventQueueSize = 256
)

// Writer is the outbound half of a transport.
type Writer interface {
	Write(data []byte) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Handler receives an event or log frame.
type Handler func(msg *Message)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Timeout        time.Duration
	TryCount       int
	MaxFrameSize   int
	EventQueueSize int
	Logger         Logger
	Metrics        *Metrics
}

// Stats holds engine counters.
type Stats struct {
	FramesRx        uint64
	FramesMalformed uint64
	CommandsTx      uint64
	Retries         uint64
	NoReply         uint64
	EventsDropped   uint64
	Pending         int
}

// Client sends AT commands and correlates device replies.
//
// The transport delivers inbound bytes through HandleBytes. Responses
// complete waiting callers directly; events and logs are handed to a
// single dispatch worker in arrival order.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Close must not be called from an event or log handler.
type Client struct {
	w        Writer
	timeout  time.Duration
	tryCount int
	logger   Logger
	metrics  *Metrics

	framerMu sync.Mutex
	framer   *Framer

	sendMu  sync.Mutex
	pending *registry

	handlerMu sync.RWMutex
	onEvent   Handler
	onLog     Handler

	queue chan *Message
	done  *closeOnce
	wg    sync.WaitGroup

	framesRx        atomic.Uint64
	framesMalformed atomic.Uint64
	commandsTx      atomic.Uint64
	retries         atomic.Uint64
	noReply         atomic.Uint64
	eventsDropped   atomic.Uint64
}

// NewClient creates a client writing to w and starts its dispatch worker.
func NewClient(w Writer, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TryCount <= 0 {
		opts.TryCount = DefaultTryCount
	}
	if opts.EventQueueSize <= 0 {
		opts.EventQueueSize = DefaultEventQueueSize
	}

	c := &Client{
		w:        w,
		timeout:  opts.Timeout,
		tryCount: opts.TryCount,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		framer:   NewFramer(opts.MaxFrameSize),
		pending:  newRegistry(),
		queue:    make(chan *Message, opts.EventQueueSize),
		done:     newCloseOnce(),
	}

	c.wg.Add(1)
	go c.dispatchWorker()

	return c
}

// SetEventHandler installs the event handler. nil disables delivery.
func (c *Client) SetEventHandler(h Handler) {
	c.handlerMu.Lock()
	c.onEvent = h
	c.handlerMu.Unlock()
}

// SetLogHandler installs the handler for LOG frames. nil disables delivery.
func (c *Client) SetLogHandler(h Handler) {
	c.handlerMu.Lock()
	c.onLog = h
	c.handlerMu.Unlock()
}

// ===== Calls =====

type callConfig struct {
	tagged  bool
	wait    bool
	timeout time.Duration
}

// CallOption adjusts a single Set, Get or Execute call.
type CallOption func(*callConfig)

// WithTag controls whether a random tag is prefixed to the command.
func WithTag(tagged bool) CallOption {
	return func(c *callConfig) { c.tagged = tagged }
}

// WithWait controls whether the call waits for a reply.
func WithWait(wait bool) CallOption {
	return func(c *callConfig) { c.wait = wait }
}

// NoWait sends the command without waiting for a reply.
func NoWait() CallOption {
	return WithWait(false)
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

func applyCallOptions(cfg callConfig, opts []CallOption) callConfig {
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Set sends "CMD=VALUE". Tagged and waiting by default.
func (c *Client) Set(ctx context.Context, cmd, value string, opts ...CallOption) (*Message, error) {
	cfg := applyCallOptions(callConfig{tagged: true, wait: true}, opts)
	return c.SendCommand(ctx, SetCommand(cmd, value, cfg.tagged), cfg.wait, cfg.timeout)
}

// Get sends "CMD?". Tagged and waiting by default.
func (c *Client) Get(ctx context.Context, cmd string, opts ...CallOption) (*Message, error) {
	cfg := applyCallOptions(callConfig{tagged: true, wait: true}, opts)
	return c.SendCommand(ctx, GetCommand(cmd, cfg.tagged), cfg.wait, cfg.timeout)
}

// Execute sends "CMD". Untagged and fire-and-forget by default.
func (c *Client) Execute(ctx context.Context, cmd string, opts ...CallOption) (*Message, error) {
	cfg := applyCallOptions(callConfig{}, opts)
	return c.SendCommand(ctx, ExecCommand(cmd, cfg.tagged), cfg.wait, cfg.timeout)
}

// SendCommand writes line and, when wait is set, blocks for the reply.
//
// Each attempt registers the request before writing so a fast reply is
// never missed. An attempt that times out is retried until TryCount
// attempts have been made.
//
// Returns:
//   - the reply on success
//   - nil, nil when wait is false
//   - ErrNoReply when every attempt timed out
//   - ErrClosed when the client closes while waiting
//   - the context error when ctx ends first
func (c *Client) SendCommand(ctx context.Context, line string, wait bool, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	name := ExpectedName(line)
	wire := []byte(line + lineEnding)

	for attempt := 1; attempt <= c.tryCount; attempt++ {
		if c.isClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			c.retries.Add(1)
			c.metrics.retry()
			c.logDebug("retrying command", "command", name, "attempt", attempt, "try_count", c.tryCount)
		}

		var req *pendingRequest
		if wait {
			req = newPendingRequest(name)
			c.pending.add(req)
		}

		if err := c.write(wire); err != nil {
			if req != nil {
				c.pending.remove(req)
			}
			return nil, err
		}

		if !wait {
			return nil, nil
		}

		reply, err := c.await(ctx, req, timeout)
		if err != nil || reply != nil {
			return reply, err
		}
	}

	c.noReply.Add(1)
	c.metrics.noReplyCommand()
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrNoReply, name, c.tryCount)
}

// await blocks for one attempt. A nil reply with nil error means timeout.
func (c *Client) await(ctx context.Context, req *pendingRequest, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
		return req.reply, nil
	case <-timer.C:
		c.pending.remove(req)
		// The reply may have landed between the timer firing and removal.
		select {
		case <-req.done:
			return req.reply, nil
		default:
			return nil, nil
		}
	case <-c.done.Done():
		c.pending.remove(req)
		return nil, ErrClosed
	case <-ctx.Done():
		c.pending.remove(req)
		return nil, ctx.Err()
	}
}

func (c *Client) write(wire []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.w.Write(wire); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.commandsTx.Add(1)
	c.metrics.command()
	return nil
}

// ===== Receive path =====

// HandleBytes consumes a chunk of inbound bytes. It is the transport's
// receive callback and never blocks on handlers.
func (c *Client) HandleBytes(p []byte) {
	if c.isClosed() {
		return
	}

	c.framerMu.Lock()
	frames := c.framer.Feed(p)
	c.framerMu.Unlock()

	for _, f := range frames {
		if f.Err != nil {
			c.framesMalformed.Add(1)
			c.metrics.malformedFrame()
			c.logWarn("dropping frame", "error", f.Err, "raw", truncate(f.Raw, 128))
			continue
		}
		c.framesRx.Add(1)
		c.metrics.frame(f.Message.Type)
		c.dispatch(f.Message)
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case TypeResponse:
		if c.pending.resolveName(msg.Name, msg) == 0 {
			c.logDebug("unsolicited response", "name", msg.Name, "code", int(msg.Code))
		}
	case TypeEvent:
		c.enqueue(msg)
	case TypeLog:
		switch msg.Name {
		case LogAT:
			c.pending.resolveContaining(msg.DataString(), msg)
		case LogLog:
			c.enqueue(msg)
		}
	default:
		c.logDebug("ignoring frame of unknown type", "type", int(msg.Type), "name", msg.Name)
	}
}

// enqueue hands msg to the dispatch worker, dropping it when the queue is full.
func (c *Client) enqueue(msg *Message) {
	select {
	case c.queue <- msg:
	default:
		c.eventsDropped.Add(1)
		c.metrics.eventDropped()
		c.logWarn("dispatch queue full, dropping frame", "type", msg.Type.String(), "name", msg.Name)
	}
}

// dispatchWorker delivers events and logs in arrival order.
func (c *Client) dispatchWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainQueue()
			return
		case msg := <-c.queue:
			c.deliver(msg)
		}
	}
}

func (c *Client) deliver(msg *Message) {
	c.handlerMu.RLock()
	handler := c.onEvent
	if msg.Type == TypeLog {
		handler = c.onLog
	}
	c.handlerMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("handler panic", "name", msg.Name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	handler(msg)
}

func (c *Client) drainQueue() {
	for {
		select {
		case <-c.queue:
		default:
			return
		}
	}
}

// ===== Lifecycle =====

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close wakes every waiting caller with ErrClosed and stops the dispatch
// worker. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	c.pending.drain()
	c.wg.Wait()
	return nil
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesRx:        c.framesRx.Load(),
		FramesMalformed: c.framesMalformed.Load(),
		CommandsTx:      c.commandsTx.Load(),
		Retries:         c.retries.Load(),
		NoReply:         c.noReply.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		Pending:         c.pending.len(),
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Error(msg, keysAndValues...)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
