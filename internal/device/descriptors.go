package device

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/sscma-core/internal/protocol"
)

// Info identifies the device.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Encryption is the WiFi security mode passed to SetWiFi.
type Encryption int

// WiFi security modes.
const (
	EncryptionAuto     Encryption = 0
	EncryptionOpen     Encryption = 1
	EncryptionWEP      Encryption = 2
	EncryptionWPA1WPA2 Encryption = 3
	EncryptionWPA2WPA3 Encryption = 4
	EncryptionWPA3     Encryption = 5
)

// Valid reports whether e is a known mode.
func (e Encryption) Valid() bool {
	return e >= EncryptionAuto && e <= EncryptionWPA3
}

// Link states reported for WiFi and MQTT.
const (
	LinkDown       = 0
	LinkConnecting = 1
	LinkUp         = 2
)

// WiFiInfo is the device's WiFi descriptor as reported by "WIFI?".
type WiFiInfo struct {
	Status int `json:"status"`
	IPv4   struct {
		IP      string `json:"ip"`
		Netmask string `json:"netmask"`
		Gateway string `json:"gateway"`
	} `json:"in4_info"`
	IPv6 struct {
		IP      string `json:"ip"`
		Prefix  string `json:"prefix"`
		Gateway string `json:"gateway"`
	} `json:"in6_info"`
	Config struct {
		NameType int        `json:"name_type"`
		SSID     string     `json:"name"`
		Security Encryption `json:"security"`
		Password string     `json:"password"`
	} `json:"config"`
}

// MQTTServer is the broker configuration the device connects to.
type MQTTServer struct {
	ClientID string `json:"client_id"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   int    `json:"use_ssl"`
}

// MQTTPubSub is the device's topic configuration.
type MQTTPubSub struct {
	PubTopic string `json:"pub_topic"`
	PubQoS   int    `json:"pub_qos"`
	SubTopic string `json:"sub_topic"`
	SubQoS   int    `json:"sub_qos"`
}

// MQTTInfo combines the "MQTTSERVER?" and "MQTTPUBSUB?" replies.
type MQTTInfo struct {
	Server struct {
		Status int        `json:"status"`
		Config MQTTServer `json:"config"`
	} `json:"mqttserver"`
	PubSub struct {
		Config MQTTPubSub `json:"config"`
	} `json:"mqttpubsub"`
}

// flexString decodes a JSON string or number as text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ModelInfo describes the model loaded on the device.
// Field tags follow the firmware's spelling.
type ModelInfo struct {
	UUID        flexString      `json:"uuid"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Category    string          `json:"catagory"`
	ModelType   string          `json:"model_type"`
	Algorithm   string          `json:"algoritm"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Author      string          `json:"author"`
	Token       string          `json:"token"`
	Classes     json.RawMessage `json:"classes,omitempty"`
}

// UnknownModel is reported when the device carries no model metadata.
func UnknownModel() *ModelInfo {
	return &ModelInfo{
		UUID:        "0",
		Name:        "Unknown",
		Version:     "0.0.0",
		Category:    "Unknown",
		ModelType:   "Unknown",
		Algorithm:   "Unknown",
		Description: "Unknown",
		Author:      "Unknown",
	}
}

// ClassNames returns the class labels, or nil when not a list of strings.
func (m *ModelInfo) ClassNames() []string {
	if m == nil || len(m.Classes) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(m.Classes, &names); err != nil {
		return nil
	}
	return names
}

// parseModelInfo decodes the "INFO?" reply data: {"info": "<base64 JSON>"}.
func parseModelInfo(data json.RawMessage) (*ModelInfo, error) {
	var reply struct {
		Info string `json:"info"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
		}
	}
	if reply.Info == "" {
		return UnknownModel(), nil
	}

	raw, err := base64.StdEncoding.DecodeString(reply.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	var model ModelInfo
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return &model, nil
}

// setWiFiValue formats the WIFI set value: "ssid",enc,"password".
func setWiFiValue(ssid, password string, enc Encryption) string {
	return protocol.Quote(ssid) + "," + strconv.Itoa(int(enc)) + "," + protocol.Quote(password)
}

// setMQTTServerValue formats "client_id","address",port,"user","password",ssl.
func setMQTTServerValue(s MQTTServer) string {
	return protocol.Quote(s.ClientID) + "," +
		protocol.Quote(s.Address) + "," +
		strconv.Itoa(s.Port) + "," +
		protocol.Quote(s.Username) + "," +
		protocol.Quote(s.Password) + "," +
		strconv.Itoa(s.UseSSL)
}

// setMQTTPubSubValue formats "pub",pub_qos,"sub",sub_qos.
func setMQTTPubSubValue(p MQTTPubSub) string {
	return protocol.Quote(p.PubTopic) + "," +
		strconv.Itoa(p.PubQoS) + "," +
		protocol.Quote(p.SubTopic) + "," +
		strconv.Itoa(p.SubQoS)
}

// invokeValue formats count,filter,show. The firmware flag is inverted:
// 0 means show the image.
func invokeValue(count int, filter, show bool) string {
	f, s := 0, 1
	if filter {
		f = 1
	}
	if show {
		s = 0
	}
	return fmt.Sprintf("%d,%d,%d", count, f, s)
}
