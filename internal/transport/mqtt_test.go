package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sscma-core/internal/infrastructure/mqtt"
)

// fakeBroker records publishes and subscriptions.
type fakeBroker struct {
	mu         sync.Mutex
	connected  bool
	published  map[string][]string
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		published: make(map[string][]string),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = append(b.published[topic], string(payload))
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h == nil {
		t.Fatalf("no subscription on %s", topic)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func TestNewMQTTValidation(t *testing.T) {
	if _, err := NewMQTT(newFakeBroker(), MQTTOptions{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewMQTT() without client id error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewMQTT(newFakeBroker(), MQTTOptions{ClientID: "cam", QoS: 3}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewMQTT() with qos 3 error = %v, want ErrInvalidConfig", err)
	}
}

func TestMQTTTopics(t *testing.T) {
	m, err := NewMQTT(newFakeBroker(), MQTTOptions{ClientID: "sscma_himax_we2_1"})
	if err != nil {
		t.Fatalf("NewMQTT() error = %v", err)
	}
	if got := m.RxTopic(); got != "sscma/v0/sscma_himax_we2_1/rx" {
		t.Errorf("RxTopic() = %q", got)
	}
	if got := m.TxTopic(); got != "sscma/v0/sscma_himax_we2_1/tx" {
		t.Errorf("TxTopic() = %q", got)
	}
}

func TestMQTTWrite(t *testing.T) {
	broker := newFakeBroker()
	m, _ := NewMQTT(broker, MQTTOptions{ClientID: "cam", Topics: mqtt.Topics{Prefix: "lab/v0"}})

	if err := m.Write([]byte("AT+ID?\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := broker.published["lab/v0/cam/rx"]; len(got) != 1 || got[0] != "AT+ID?\r\n" {
		t.Errorf("published = %q", got)
	}

	broker.publishErr = errors.New("not connected")
	if err := m.Write([]byte("AT+ID?\r\n")); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Write() error = %v, want ErrWriteFailed", err)
	}
}

func TestMQTTReceive(t *testing.T) {
	broker := newFakeBroker()
	m, _ := NewMQTT(broker, MQTTOptions{ClientID: "cam"})

	var got []string
	m.SetOnReceive(func(data []byte) { got = append(got, string(data)) })

	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving() error = %v", err)
	}
	broker.deliver(t, m.TxTopic(), `{"type":1,"name":"INVOKE","code":0}`)
	broker.deliver(t, m.TxTopic(), "\r{\"type\":1,\"name\":\"SAMPLE\",\"code\":0}\n")

	want := []string{
		"\r{\"type\":1,\"name\":\"INVOKE\",\"code\":0}\n",
		"\r{\"type\":1,\"name\":\"SAMPLE\",\"code\":0}\n",
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("received = %q, want %q", got, want)
	}

	if err := m.StopReceiving(); err != nil {
		t.Fatalf("StopReceiving() error = %v", err)
	}
	if len(broker.handlers) != 0 {
		t.Error("StopReceiving() left subscription")
	}
	if err := m.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestMQTTConnectWaitsForBroker(t *testing.T) {
	broker := newFakeBroker()
	broker.connected = false
	m, _ := NewMQTT(broker, MQTTOptions{ClientID: "cam"})

	go func() {
		time.Sleep(150 * time.Millisecond)
		broker.mu.Lock()
		broker.connected = true
		broker.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false")
	}
}

func TestMQTTConnectTimeout(t *testing.T) {
	broker := newFakeBroker()
	broker.connected = false
	m, _ := NewMQTT(broker, MQTTOptions{ClientID: "cam"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Connect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
}

func TestFrameMQTTPayload(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"type":0}`, "\r{\"type\":0}\n"},
		{"{\"type\":0}\r\n", "\r{\"type\":0}\n"},
		{"\r{\"type\":0}\n", "\r{\"type\":0}\n"},
		{"partial", "partial"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := string(frameMQTTPayload([]byte(tt.in))); got != tt.want {
			t.Errorf("frameMQTTPayload(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
