// Package device models an SSCMA edge device as a state machine over the
// protocol engine.
//
// A Device tracks lifecycle and connectivity as a set of status flags:
//
//	UNKNOWN ──initialize──▶ READY ──Sample/Invoke──▶ READY|SAMPLING / READY|INVOKING
//	   ▲                      │
//	   └──── Reset / non-OK ──┘
//
// WiFi and MQTT connectivity are tracked independently through the
// *_CONNECTING and *_CONNECTED flags.
//
// # Capability Guards
//
// Every operation declares the status it requires (see Can). A call made
// while the requirement is unmet returns ErrUnavailable without touching
// the wire.
//
// # Health Loop
//
// While running, a heartbeat re-issues a sampling or invoking run that has
// gone silent and probes an idle device with "ID?" once the keepalive
// window passes. A failed probe resets the device.
//
// # Observers
//
// Connect, disconnect, monitor and log notifications are delivered to an
// Observer on a dedicated goroutine, so observers may call back into the
// Device, including Stop.
//
// # Usage
//
//	dev := device.New(client, transport, device.Options{
//	    Observer: device.Observers{history, telemetry, hub},
//	    Logger:   log,
//	})
//	if err := dev.Start(ctx); err != nil {
//	    return err
//	}
//	defer dev.Stop()
//
//	if _, err := dev.Invoke(ctx, -1, false, true); errors.Is(err, device.ErrUnavailable) {
//	    // device not ready yet
//	}
package device
