package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType distinguishes the three kinds of inbound frames.
type MessageType int

// Frame types.
const (
	TypeResponse MessageType = 0
	TypeEvent    MessageType = 1
	TypeLog      MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeEvent:
		return "event"
	case TypeLog:
		return "log"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Log sub-kinds carried in the name of a TypeLog frame.
const (
	// LogAT echoes a command line; it also completes the matching request.
	LogAT = "AT"

	// LogLog is free-form device log output.
	LogLog = "LOG"
)

// Message is one decoded device frame.
type Message struct {
	Type MessageType     `json:"type"`
	Name string          `json:"name"`
	Code Code            `json:"code"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wireMessage detects a missing type field, which json would otherwise
// decode as a response.
type wireMessage struct {
	Type *MessageType    `json:"type"`
	Name string          `json:"name"`
	Code Code            `json:"code"`
	Data json.RawMessage `json:"data"`
}

// ParseMessage decodes the JSON object of a frame (without delimiters).
func ParseMessage(raw []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if w.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return &Message{
		Type: *w.Type,
		Name: w.Name,
		Code: w.Code,
		Data: w.Data,
	}, nil
}

// DataString returns Data as text: a JSON string is unquoted, anything
// else is returned verbatim. Absent data yields "".
func (m *Message) DataString() string {
	if m == nil || len(m.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// HasData reports whether Data is present and not null or an empty string.
func (m *Message) HasData() bool {
	if m == nil {
		return false
	}
	d := bytes.TrimSpace(m.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null")) && !bytes.Equal(d, []byte(`""`))
}

// DecodeData unmarshals Data into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedFrame, m.Name)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s data: %w", m.Name, err)
	}
	return nil
}

// NameContains reports whether the frame name contains token.
// Firmware prefixes some event names, so events are matched by substring.
func (m *Message) NameContains(token string) bool {
	return strings.Contains(m.Name, token)
}
