package mqtt

import "fmt"

// Topic prefixes used by SSCMA firmware and by this host.
const (
	// TopicPrefixDevice is the firmware's default prefix. Devices listen on
	// <prefix>/<client_id>/rx and publish on <prefix>/<client_id>/tx.
	TopicPrefixDevice = "sscma/v0"

	// TopicPrefixHost is the base for topics owned by the host daemon.
	TopicPrefixHost = "sscma/host"
)

// Topics builds SSCMA MQTT topics under a device prefix.
// The zero value uses TopicPrefixDevice.
//
//	topics := mqtt.Topics{}
//	topics.DeviceRx("grove_vision_ai_we2_1")
//	// Returns: "sscma/v0/grove_vision_ai_we2_1/rx"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return TopicPrefixDevice
	}
	return t.Prefix
}

// DeviceRx returns the topic a device reads AT commands from.
//
// Example: sscma/v0/grove_vision_ai_we2_1/rx
func (t Topics) DeviceRx(clientID string) string {
	return fmt.Sprintf("%s/%s/rx", t.prefix(), clientID)
}

// DeviceTx returns the topic a device publishes responses, events and logs on.
//
// Example: sscma/v0/grove_vision_ai_we2_1/tx
func (t Topics) DeviceTx(clientID string) string {
	return fmt.Sprintf("%s/%s/tx", t.prefix(), clientID)
}

// AllDeviceTx matches output from every device under the prefix.
//
// Pattern: sscma/v0/+/tx
func (t Topics) AllDeviceTx() string {
	return fmt.Sprintf("%s/+/tx", t.prefix())
}

// HostStatus returns the retained online/offline topic for a host client.
//
// Example: sscma/host/sscma-host/status
func (Topics) HostStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixHost, clientID)
}
