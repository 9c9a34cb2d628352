package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// ErrSessionNotFound is returned by CloseSession for an unknown id.
var ErrSessionNotFound = errors.New("history: session not found")

// SQLiteRepository implements Repository on the device_* tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// RecordEvent inserts one event.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, e Event) error {
	if e.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	data := "null"
	if len(e.Data) > 0 {
		data = string(e.Data)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (session_id, device_id, name, code, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.DeviceID, e.Name, e.Code, data, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecordLog inserts one log line.
func (r *SQLiteRepository) RecordLog(ctx context.Context, l LogLine) error {
	if l.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_logs (session_id, device_id, code, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.SessionID, l.DeviceID, l.Code, l.Message, formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	return nil
}

// OpenSession records the start of a session. Reopening an id is a no-op.
func (r *SQLiteRepository) OpenSession(ctx context.Context, s Session) error {
	if s.ID == "" || s.DeviceID == "" {
		return fmt.Errorf("session id and device id are required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_sessions (id, device_id, device_name, firmware, connected_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		s.ID, s.DeviceID, s.DeviceName, s.Firmware, formatTime(s.ConnectedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// CloseSession stamps the end of a session. Closing twice keeps the first stamp.
func (r *SQLiteRepository) CloseSession(ctx context.Context, id, reason string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions
		 SET disconnected_at = COALESCE(disconnected_at, ?),
		     reason = CASE WHEN disconnected_at IS NULL THEN ? ELSE reason END
		 WHERE id = ?`,
		formatTime(at), reason, id,
	)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

// RecentEvents returns events ordered newest first.
func (r *SQLiteRepository) RecentEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	limit := clampLimit(f.Limit)

	query := `SELECT id, session_id, device_id, name, code, data, created_at FROM device_events`
	args := make([]any, 0, 2)
	if f.Name != "" {
		query += ` WHERE name = ?`
		args = append(args, f.Name)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var data, createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.DeviceID, &e.Name, &e.Code, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Data = json.RawMessage(data)
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// RecentLogs returns log lines ordered newest first.
func (r *SQLiteRepository) RecentLogs(ctx context.Context, limit int) ([]LogLine, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, device_id, code, message, created_at
		 FROM device_logs
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	logs := make([]LogLine, 0, limit)
	for rows.Next() {
		var l LogLine
		var createdAt string
		if err := rows.Scan(&l.ID, &l.SessionID, &l.DeviceID, &l.Code, &l.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning log: %w", err)
		}
		if l.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logs: %w", err)
	}
	return logs, nil
}

// Sessions returns sessions ordered newest first.
func (r *SQLiteRepository) Sessions(ctx context.Context, limit int) ([]Session, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, device_name, firmware, connected_at, disconnected_at, reason
		 FROM device_sessions
		 ORDER BY connected_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		var s Session
		var connectedAt string
		var disconnectedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.DeviceName, &s.Firmware, &connectedAt, &disconnectedAt, &s.Reason); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if s.ConnectedAt, err = parseTimestamp(connectedAt); err != nil {
			return nil, err
		}
		if disconnectedAt.Valid {
			at, err := parseTimestamp(disconnectedAt.String)
			if err != nil {
				return nil, err
			}
			s.DisconnectedAt = &at
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Prune deletes events, logs and closed sessions older than olderThan.
// Open sessions are kept regardless of age.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var total int64
	for _, stmt := range []string{
		`DELETE FROM device_events WHERE created_at < ?`,
		`DELETE FROM device_logs WHERE created_at < ?`,
		`DELETE FROM device_sessions WHERE disconnected_at IS NOT NULL AND disconnected_at < ?`,
	} {
		result, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

// parseTimestamp parses a stored timestamp. Rows written by hand may use
// plain RFC 3339.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}
