// Package history keeps a local record of what the device reported.
//
// Events, log lines and connection sessions are written to SQLite so the
// host can answer "what happened" questions without the time-series
// database. Recorder adapts a Repository to device.Observer.
package history

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one asynchronous device event.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	DeviceID  string          `json:"device_id"`
	Name      string          `json:"name"`
	Code      int             `json:"code"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// LogLine is one device log message.
type LogLine struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Session spans one READY period of the device.
type Session struct {
	ID             string     `json:"id"`
	DeviceID       string     `json:"device_id"`
	DeviceName     string     `json:"device_name"`
	Firmware       string     `json:"firmware"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// EventFilter narrows RecentEvents.
type EventFilter struct {
	// Name matches the event name exactly. Empty matches all.
	Name  string
	Limit int
}

// Repository stores and retrieves device history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	RecordEvent(ctx context.Context, e Event) error
	RecordLog(ctx context.Context, l LogLine) error
	OpenSession(ctx context.Context, s Session) error
	CloseSession(ctx context.Context, id, reason string, at time.Time) error

	// RecentEvents returns events newest first.
	RecentEvents(ctx context.Context, f EventFilter) ([]Event, error)

	// RecentLogs returns log lines newest first.
	RecentLogs(ctx context.Context, limit int) ([]LogLine, error)

	// Sessions returns sessions newest first.
	Sessions(ctx context.Context, limit int) ([]Session, error)

	// Prune deletes rows older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
