package transport

import (
	"context"
	"errors"
	"sync"
)

// Transport is a bidirectional byte link to a device.
type Transport interface {
	// Write sends one complete command line.
	Write(data []byte) error

	// SetOnReceive installs the inbound byte callback.
	SetOnReceive(fn func(data []byte))

	Connect(ctx context.Context) error
	Disconnect() error

	// StartReceiving and StopReceiving are idempotent.
	StartReceiving() error
	StopReceiving() error

	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Domain errors for transports.
var (
	// ErrNotConnected is returned when the link is not open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrPortNotFound is returned when the serial device does not exist.
	ErrPortNotFound = errors.New("transport: serial port not found")

	// ErrPortBusy is returned when another process holds the serial port.
	ErrPortBusy = errors.New("transport: serial port busy")

	// ErrPermissionDenied is returned when the serial port cannot be opened for lack of rights.
	ErrPermissionDenied = errors.New("transport: permission denied")

	// ErrInvalidConfig is returned for rejected port settings or missing topics.
	ErrInvalidConfig = errors.New("transport: invalid configuration")

	// ErrWriteFailed is returned when bytes could not be handed to the link.
	ErrWriteFailed = errors.New("transport: write failed")
)

// receiver holds the inbound callback behind a lock.
type receiver struct {
	mu sync.RWMutex
	fn func([]byte)
}

func (r *receiver) set(fn func([]byte)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

func (r *receiver) deliver(data []byte) {
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn != nil {
		fn(data)
	}
}
