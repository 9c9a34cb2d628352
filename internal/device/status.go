package device

import "strings"

// Status is the set of device status flags.
type Status uint32

// Status flags. The zero value is StatusUnknown.
const (
	StatusUnknown        Status = 0
	StatusReady          Status = 1 << 0
	StatusSampling       Status = 1 << 1
	StatusInvoking       Status = 1 << 2
	StatusWiFiConnecting Status = 1 << 3
	StatusWiFiConnected  Status = 1 << 4
	StatusMQTTConnecting Status = 1 << 5
	StatusMQTTConnected  Status = 1 << 6
)

var statusNames = []struct {
	flag Status
	name string
}{
	{StatusReady, "READY"},
	{StatusSampling, "SAMPLING"},
	{StatusInvoking, "INVOKING"},
	{StatusWiFiConnecting, "WIFI_CONNECTING"},
	{StatusWiFiConnected, "WIFI_CONNECTED"},
	{StatusMQTTConnecting, "MQTT_CONNECTING"},
	{StatusMQTTConnected, "MQTT_CONNECTED"},
}

// Has reports whether every flag in mask is set.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// Flags returns the names of the set flags, lowest bit first.
func (s Status) Flags() []string {
	if s == StatusUnknown {
		return []string{"UNKNOWN"}
	}
	var flags []string
	for _, n := range statusNames {
		if s&n.flag != 0 {
			flags = append(flags, n.name)
		}
	}
	return flags
}

// String returns the flags joined by '|', e.g. "READY|INVOKING".
func (s Status) String() string {
	return strings.Join(s.Flags(), "|")
}

// with returns s with set added and clear removed.
func (s Status) with(set, clear Status) Status {
	return (s &^ clear) | set
}
