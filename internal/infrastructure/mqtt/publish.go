package mqtt

import "fmt"

// maxPayloadSize caps a single message. AT frames with an inline JPEG stay
// well below it.
const maxPayloadSize = 1 << 20

func validateTopicQoS(topic string, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it.
// AT command lines should not be retained; a retained command would replay
// every time the device resubscribes.
//
//	err := client.Publish(mqtt.Topics{}.DeviceRx(id), []byte("AT+ID?\r\n"), 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over %d byte limit", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.paho.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}
