package device

import "errors"

// Domain errors for the device package.
var (
	// ErrUnavailable is returned when the device status does not permit
	// the requested operation. No command is sent.
	ErrUnavailable = errors.New("device: operation unavailable in current status")

	// ErrStopped is returned by Start after Stop. A stopped device cannot restart.
	ErrStopped = errors.New("device: stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("device: already started")

	// ErrNoIdentity is returned when ID, NAME or VER come back empty.
	ErrNoIdentity = errors.New("device: identity not reported")

	// ErrInvalidModel is returned when the model descriptor cannot be decoded.
	ErrInvalidModel = errors.New("device: invalid model descriptor")

	// ErrInvalidArgument is returned for parameters rejected before sending.
	ErrInvalidArgument = errors.New("device: invalid argument")
)
