package history

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/sscma-core/internal/device"
)

// defaultWriteTimeout bounds each write made from an observer callback.
const defaultWriteTimeout = 5 * time.Second

// Logger interface for optional logging.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// StoreImages keeps the base64 "image" field of events.
	StoreImages bool

	// WriteTimeout bounds each repository call. Default 5s.
	WriteTimeout time.Duration

	Logger Logger
}

// Recorder writes device notifications to a Repository.
// It implements device.Observer; write failures are logged, not returned.
type Recorder struct {
	repo    Repository
	opts    RecorderOptions
	timeout time.Duration
}

var _ device.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Recorder{repo: repo, opts: opts, timeout: timeout}
}

func (r *Recorder) write(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := fn(ctx); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Warn("recording history failed", "record", what, "error", err)
	}
}

// OnConnect opens a session.
func (r *Recorder) OnConnect(e device.ConnectEvent) {
	r.write("session", func(ctx context.Context) error {
		return r.repo.OpenSession(ctx, Session{
			ID:          e.SessionID,
			DeviceID:    e.Info.ID,
			DeviceName:  e.Info.Name,
			Firmware:    e.Info.Version,
			ConnectedAt: e.Time,
		})
	})
}

// OnDisconnect closes the session that was open.
func (r *Recorder) OnDisconnect(e device.DisconnectEvent) {
	if e.SessionID == "" {
		return
	}
	r.write("session", func(ctx context.Context) error {
		return r.repo.CloseSession(ctx, e.SessionID, e.Reason, e.Time)
	})
}

// OnMonitor records an event.
func (r *Recorder) OnMonitor(e device.MonitorEvent) {
	data := e.Data
	if !r.opts.StoreImages {
		data = stripImage(data)
	}
	r.write("event", func(ctx context.Context) error {
		return r.repo.RecordEvent(ctx, Event{
			SessionID: e.SessionID,
			DeviceID:  e.DeviceID,
			Name:      e.Name,
			Code:      e.Code,
			Data:      data,
			CreatedAt: e.Time,
		})
	})
}

// OnLog records a log line.
func (r *Recorder) OnLog(e device.LogEntry) {
	r.write("log", func(ctx context.Context) error {
		return r.repo.RecordLog(ctx, LogLine{
			SessionID: e.SessionID,
			DeviceID:  e.DeviceID,
			Code:      e.Code,
			Message:   e.Message,
			CreatedAt: e.Time,
		})
	})
}

// stripImage drops the top-level "image" field of an object payload.
// Anything else is returned unchanged.
func stripImage(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(`"image"`)) {
		return data
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return data
	}
	if _, ok := fields["image"]; !ok {
		return data
	}
	delete(fields, "image")

	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
