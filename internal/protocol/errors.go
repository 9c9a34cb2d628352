package protocol

import (
	"errors"
	"fmt"
)

// Domain errors for the protocol engine.
var (
	// ErrNoReply is returned when every attempt of a command timed out.
	ErrNoReply = errors.New("protocol: no reply from device")

	// ErrClosed is returned when the client shuts down while a caller waits.
	ErrClosed = errors.New("protocol: client closed")

	// ErrMalformedFrame is reported for a delimited frame that is not a
	// JSON object with a type field.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrFrameTooLarge is reported when an unterminated frame outgrows the buffer.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds buffer limit")

	// ErrSendFailed is returned when the transport rejects a command line.
	ErrSendFailed = errors.New("protocol: send failed")

	// ErrDeviceStatus is wrapped by DeviceError for non-OK reply codes.
	ErrDeviceStatus = errors.New("protocol: device returned error status")
)

// DeviceError carries a non-OK status code reported by the device.
type DeviceError struct {
	Command string
	Code    Code
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("protocol: %s: device status %d (%s)", e.Command, int(e.Code), e.Code)
}

// Unwrap allows errors.Is(err, ErrDeviceStatus).
func (e *DeviceError) Unwrap() error {
	return ErrDeviceStatus
}
