package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/sscma-core/internal/infrastructure/config"
)

const (
	// defaultBaudRate matches the SSCMA firmware console.
	defaultBaudRate = 921600

	// defaultReadTimeout bounds each Read so StopReceiving is prompt.
	defaultReadTimeout = 100 * time.Millisecond

	// serialReadBufferSize fits a typical event; larger frames span reads.
	serialReadBufferSize = 4096
)

// openFunc opens a serial port. Replaced in tests.
type openFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Serial is a Transport over a serial port.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes are serialized; the receive callback runs on the read goroutine.
type Serial struct {
	cfg    config.SerialConfig
	open   openFunc
	logger Logger

	mu   sync.Mutex
	port serial.Port

	writeMu sync.Mutex
	rx      receiver

	recvMu    sync.Mutex
	receiving bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSerial creates a serial transport. The port is opened by Connect.
func NewSerial(cfg config.SerialConfig, logger Logger) *Serial {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Serial{cfg: cfg, open: serial.Open, logger: logger}
}

// SetOnReceive installs the inbound byte callback.
func (s *Serial) SetOnReceive(fn func(data []byte)) {
	s.rx.set(fn)
}

// Connect opens the port at 8N1 and the configured baud rate.
func (s *Serial) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	if s.cfg.Port == "" {
		return fmt.Errorf("%w: serial port path is empty", ErrInvalidConfig)
	}

	port, err := s.open(s.cfg.Port, &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.cfg.Port, mapPortError(err))
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // already failing
		return fmt.Errorf("setting read timeout: %w", mapPortError(err))
	}

	s.port = port
	if s.logger != nil {
		s.logger.Info("serial port opened", "port", s.cfg.Port, "baud_rate", s.cfg.BaudRate)
	}
	return nil
}

// Disconnect stops receiving and closes the port.
func (s *Serial) Disconnect() error {
	if err := s.StopReceiving(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// IsConnected reports whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Write sends data in full.
func (s *Serial) Write(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, mapPortError(err))
		}
		data = data[n:]
	}
	return nil
}

// StartReceiving starts the read goroutine.
func (s *Serial) StartReceiving() error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.receiving {
		return nil
	}
	s.receiving = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.readLoop(port, s.done)
	return nil
}

// StopReceiving stops the read goroutine and waits for it.
// It returns within one read timeout.
func (s *Serial) StopReceiving() error {
	s.recvMu.Lock()
	if !s.receiving {
		s.recvMu.Unlock()
		return nil
	}
	s.receiving = false
	close(s.done)
	s.recvMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Serial) readLoop(port serial.Port, done <-chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, serialReadBufferSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if s.logger != nil {
				s.logger.Error("serial read failed, receive loop stopped", "port", s.cfg.Port, "error", mapPortError(err))
			}
			s.markLost(port)
			return
		}
		// n == 0 is a read timeout.
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.rx.deliver(chunk)
		}
	}
}

// markLost drops a port that failed mid-read so Connect can reopen it.
func (s *Serial) markLost(port serial.Port) {
	s.recvMu.Lock()
	s.receiving = false
	s.recvMu.Unlock()

	s.mu.Lock()
	if s.port == port {
		s.port.Close() //nolint:errcheck // port already failed
		s.port = nil
	}
	s.mu.Unlock()
}

// mapPortError translates go.bug.st/serial error codes into package errors.
func mapPortError(err error) error {
	var code serial.PortErrorCode
	var ptrErr *serial.PortError
	var valErr serial.PortError
	switch {
	case errors.As(err, &ptrErr):
		code = ptrErr.Code()
	case errors.As(err, &valErr):
		code = valErr.Code()
	default:
		return err
	}

	switch code {
	case serial.PortNotFound, serial.InvalidSerialPort:
		return fmt.Errorf("%w: %w", ErrPortNotFound, err)
	case serial.PortBusy:
		return fmt.Errorf("%w: %w", ErrPortBusy, err)
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case serial.PortClosed:
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	default:
		return err
	}
}
