// Package mqtt provides MQTT broker connectivity for the SSCMA host.
//
// SSCMA firmware can expose its AT command channel over MQTT instead of
// a serial port. The device subscribes to <prefix>/<client_id>/rx for
// command lines and publishes every response, event and log frame on
// <prefix>/<client_id>/tx.
//
//	host ↔ MQTT broker ↔ edge device
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS validation
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) for host offline detection
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on the local network
//   - Device MQTT credentials are configured on the device itself via AT+MQTTSERVER
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: cfg.Device.TopicPrefix}
//	err = client.Subscribe(topics.DeviceTx(id), 0,
//	    func(topic string, payload []byte) error {
//	        engine.HandleBytes(payload)
//	        return nil
//	    })
//
//	client.Publish(topics.DeviceRx(id), []byte("AT+ID?\r\n"), 0, false)
package mqtt
