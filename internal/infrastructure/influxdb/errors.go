package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck before Connect or after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrDisabled means influxdb.enabled is false; callers treat it as "no sink".
	ErrDisabled = errors.New("influxdb: telemetry sink disabled")
)
