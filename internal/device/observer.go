package device

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ConnectEvent is emitted when the device becomes READY.
type ConnectEvent struct {
	SessionID string    `json:"session_id"`
	Info      Info      `json:"info"`
	Time      time.Time `json:"time"`
}

// DisconnectEvent is emitted when a READY device is reset or stopped.
type DisconnectEvent struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}

// MonitorEvent carries one device event after bookkeeping.
type MonitorEvent struct {
	SessionID string          `json:"session_id"`
	DeviceID  string          `json:"device_id"`
	Name      string          `json:"name"`
	Code      int             `json:"code"`
	Data      json.RawMessage `json:"data,omitempty"`
	Time      time.Time       `json:"time"`
}

// LogEntry is a free-form log line from the device.
type LogEntry struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Observer receives device notifications.
type Observer interface {
	OnConnect(ConnectEvent)
	OnDisconnect(DisconnectEvent)
	OnMonitor(MonitorEvent)
	OnLog(LogEntry)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Connect    func(ConnectEvent)
	Disconnect func(DisconnectEvent)
	Monitor    func(MonitorEvent)
	Log        func(LogEntry)
}

func (f ObserverFuncs) OnConnect(e ConnectEvent) {
	if f.Connect != nil {
		f.Connect(e)
	}
}

func (f ObserverFuncs) OnDisconnect(e DisconnectEvent) {
	if f.Disconnect != nil {
		f.Disconnect(e)
	}
}

func (f ObserverFuncs) OnMonitor(e MonitorEvent) {
	if f.Monitor != nil {
		f.Monitor(e)
	}
}

func (f ObserverFuncs) OnLog(e LogEntry) {
	if f.Log != nil {
		f.Log(e)
	}
}

// Observers fans notifications out in order. Nil entries are skipped.
type Observers []Observer

func (o Observers) OnConnect(e ConnectEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnConnect(e)
		}
	}
}

func (o Observers) OnDisconnect(e DisconnectEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnDisconnect(e)
		}
	}
}

func (o Observers) OnMonitor(e MonitorEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnMonitor(e)
		}
	}
}

func (o Observers) OnLog(e LogEntry) {
	for _, obs := range o {
		if obs != nil {
			obs.OnLog(e)
		}
	}
}

// defaultNotifyQueueSize bounds pending observer notifications.
const defaultNotifyQueueSize = 256

// notifier delivers notifications on its own goroutine.
// stop does not wait for the goroutine, so an observer may call Stop.
type notifier struct {
	observer Observer
	queue    chan func(Observer)
	done     chan struct{}
	once     sync.Once
	logger   Logger
}

func newNotifier(observer Observer, size int, logger Logger) *notifier {
	if size <= 0 {
		size = defaultNotifyQueueSize
	}
	n := &notifier{
		observer: observer,
		queue:    make(chan func(Observer), size),
		done:     make(chan struct{}),
		logger:   logger,
	}
	if observer != nil {
		go n.run()
	}
	return n
}

func (n *notifier) post(fn func(Observer)) {
	if n.observer == nil {
		return
	}
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.queue <- fn:
	default:
		if n.logger != nil {
			n.logger.Warn("observer queue full, dropping notification")
		}
	}
}

func (n *notifier) run() {
	for {
		select {
		case fn := <-n.queue:
			n.deliver(fn)
		case <-n.done:
			// Flush what was queued before stop.
			for {
				select {
				case fn := <-n.queue:
					n.deliver(fn)
				default:
					return
				}
			}
		}
	}
}

func (n *notifier) deliver(fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil && n.logger != nil {
			n.logger.Error("observer panic", "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(n.observer)
}

func (n *notifier) stop() {
	n.once.Do(func() { close(n.done) })
}
