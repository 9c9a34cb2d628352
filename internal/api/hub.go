package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/sscma-core/internal/device"
	"github.com/nerrad567/sscma-core/internal/infrastructure/config"
	"github.com/nerrad567/sscma-core/internal/infrastructure/logging"
)

// Broadcast channels fed by the device.
const (
	ChannelConnected    = "device.connected"
	ChannelDisconnected = "device.disconnected"
	ChannelMonitor      = "device.monitor"
	ChannelLog          = "device.log"
)

var knownChannels = map[string]struct{}{
	ChannelConnected:    {},
	ChannelDisconnected: {},
	ChannelMonitor:      {},
	ChannelLog:          {},
}

// Hub fans device notifications out to WebSocket clients. It implements
// device.Observer, so the device's notifier goroutine calls straight into
// Broadcast; a client whose buffer is full misses the message.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

var _ device.Observer = (*Hub)(nil)

func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client joined", "clients", n)
}

// Unregister drops c and closes its send queue. Repeated calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client left", "clients", n)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event frame for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("websocket event encoding failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.isSubscribed(channel) {
			c.trySend(frame)
		}
	}
}

func (h *Hub) OnConnect(e device.ConnectEvent)       { h.Broadcast(ChannelConnected, e) }
func (h *Hub) OnDisconnect(e device.DisconnectEvent) { h.Broadcast(ChannelDisconnected, e) }
func (h *Hub) OnLog(e device.LogEntry)               { h.Broadcast(ChannelLog, e) }

// OnMonitor relays every device event, inline images included.
func (h *Hub) OnMonitor(e device.MonitorEvent) { h.Broadcast(ChannelMonitor, e) }

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
