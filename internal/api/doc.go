// Package api implements the HTTP control API and WebSocket monitor for the
// SSCMA host daemon.
//
// This package provides:
//   - REST endpoints for the device state machine (sample, invoke, thresholds, network config)
//   - Read-only history endpoints backed by the SQLite recorder
//   - WebSocket hub broadcasting connect, disconnect, event and log notifications
//   - Prometheus /metrics and a JSON system summary
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Requests call straight into the device, which sends AT commands and waits
// for the reply. Device status errors map to HTTP codes: an operation the
// current status forbids is 409, an unanswered command 504 and a non-OK
// device code 502.
//
// The Hub is a device.Observer; the daemon registers it alongside the
// history and telemetry recorders.
//
// # Security
//
// The API has no user accounts. Bind it to a trusted interface or put it
// behind a reverse proxy.
package api
