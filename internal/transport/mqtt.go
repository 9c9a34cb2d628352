package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sscma-core/internal/infrastructure/mqtt"
)

// connectPollInterval is how often Connect re-checks the broker link.
const connectPollInterval = 100 * time.Millisecond

// Broker is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// MQTTOptions configures the MQTT bridge.
type MQTTOptions struct {
	// ClientID is the device's MQTT client id, e.g. "sscma_himax_we2_1".
	ClientID string

	// Topics builds the device topics. The zero value uses "sscma/v0".
	Topics mqtt.Topics

	QoS    byte
	Logger Logger
}

// MQTT is a Transport that reaches the device through a broker.
//
// Commands are published to the device's rx topic and the device's tx
// topic is delivered to the receive callback.
type MQTT struct {
	broker   Broker
	clientID string
	topics   mqtt.Topics
	qos      byte
	logger   Logger
	rx       receiver

	mu        sync.Mutex
	receiving bool
}

// NewMQTT creates an MQTT bridge for one device.
func NewMQTT(broker Broker, opts MQTTOptions) (*MQTT, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: device client id is empty", ErrInvalidConfig)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidConfig, opts.QoS)
	}
	return &MQTT{
		broker:   broker,
		clientID: opts.ClientID,
		topics:   opts.Topics,
		qos:      opts.QoS,
		logger:   opts.Logger,
	}, nil
}

// RxTopic is where commands are published.
func (m *MQTT) RxTopic() string {
	return m.topics.DeviceRx(m.clientID)
}

// TxTopic is where device output arrives.
func (m *MQTT) TxTopic() string {
	return m.topics.DeviceTx(m.clientID)
}

// SetOnReceive installs the inbound byte callback.
func (m *MQTT) SetOnReceive(fn func(data []byte)) {
	m.rx.set(fn)
}

// Connect waits for the broker connection, which the MQTT client
// establishes and maintains on its own.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.broker.IsConnected() {
		return nil
	}

	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
		case <-ticker.C:
			if m.broker.IsConnected() {
				return nil
			}
		}
	}
}

// Disconnect stops receiving. The broker connection is shared and left open.
func (m *MQTT) Disconnect() error {
	return m.StopReceiving()
}

// IsConnected reports whether the broker link is up.
func (m *MQTT) IsConnected() bool {
	return m.broker.IsConnected()
}

// Write publishes one command line to the device's rx topic.
func (m *MQTT) Write(data []byte) error {
	if err := m.broker.Publish(m.RxTopic(), data, m.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// StartReceiving subscribes to the device's tx topic.
func (m *MQTT) StartReceiving() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.receiving {
		return nil
	}
	if err := m.broker.Subscribe(m.TxTopic(), m.qos, m.handleMessage); err != nil {
		return err
	}
	m.receiving = true
	if m.logger != nil {
		m.logger.Info("receiving device output", "topic", m.TxTopic())
	}
	return nil
}

// StopReceiving unsubscribes from the device's tx topic.
func (m *MQTT) StopReceiving() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.receiving {
		return nil
	}
	m.receiving = false
	return m.broker.Unsubscribe(m.TxTopic())
}

func (m *MQTT) handleMessage(_ string, payload []byte) error {
	m.rx.deliver(frameMQTTPayload(payload))
	return nil
}

// frameMQTTPayload restores the "\r{" ... "}\n" delimiters around a bare
// JSON document so the framer sees the same stream as on serial.
func frameMQTTPayload(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	if bytes.HasPrefix(payload, []byte("\r{")) && bytes.HasSuffix(payload, []byte("}\n")) {
		return payload
	}

	framed := make([]byte, 0, len(trimmed)+2)
	framed = append(framed, '\r')
	framed = append(framed, trimmed...)
	return append(framed, '\n')
}
