package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the /system response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *MQTTMetrics     `json:"mqtt,omitempty"`
	Device        DeviceMetrics    `json:"device"`
	Engine        *EngineMetrics   `json:"engine,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains broker connection state.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics summarises the device state machine.
type DeviceMetrics struct {
	Status          []string `json:"status"`
	RemainingSample int      `json:"remaining_sample"`
	RemainingInvoke int      `json:"remaining_invoke"`
	LastEventAgeSec *float64 `json:"last_event_age_seconds,omitempty"`
	LastAliveAgeSec *float64 `json:"last_alive_age_seconds,omitempty"`
}

// EngineMetrics mirrors the protocol engine counters.
type EngineMetrics struct {
	FramesRx        uint64 `json:"frames_rx"`
	FramesMalformed uint64 `json:"frames_malformed"`
	CommandsTx      uint64 `json:"commands_tx"`
	Retries         uint64 `json:"retries"`
	NoReply         uint64 `json:"no_reply"`
	EventsDropped   uint64 `json:"events_dropped"`
	Pending         int    `json:"pending"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// ageSeconds returns nil for the zero time.
func ageSeconds(now, t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	age := now.Sub(t).Seconds()
	return &age
}

// handleSystem returns a snapshot of host and device health.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := time.Now()
	state := s.device.Snapshot()

	metrics := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Device: DeviceMetrics{
			Status:          state.Flags,
			RemainingSample: state.RemainingSample,
			RemainingInvoke: state.RemainingInvoke,
			LastEventAgeSec: ageSeconds(now, state.LastEvent),
			LastAliveAgeSec: ageSeconds(now, state.LastAlive),
		},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if s.engine != nil {
		st := s.engine.Stats()
		metrics.Engine = &EngineMetrics{
			FramesRx:        st.FramesRx,
			FramesMalformed: st.FramesMalformed,
			CommandsTx:      st.CommandsTx,
			Retries:         st.Retries,
			NoReply:         st.NoReply,
			EventsDropped:   st.EventsDropped,
			Pending:         st.Pending,
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
