package device

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/sscma-core/internal/protocol"
)

// linkEvent is the payload of WIFI and MQTT events.
type linkEvent struct {
	Status int `json:"status"`
}

// handleEvent applies an event to the device state and forwards it to
// observers. It runs on the engine's dispatch worker.
func (d *Device) handleEvent(msg *protocol.Message) {
	now := time.Now()

	d.mu.Lock()
	d.lastAlive = now
	d.mu.Unlock()

	failed := false
	switch {
	case msg.NameContains(protocol.EventInvoke):
		failed = d.countRun(msg, StatusInvoking, &d.remainingInvoke, now)
	case msg.NameContains(protocol.EventSample):
		failed = d.countRun(msg, StatusSampling, &d.remainingSample, now)
	case msg.NameContains(protocol.EventWiFi):
		d.applyLinkEvent(msg, StatusWiFiConnecting, StatusWiFiConnected)
	case msg.NameContains(protocol.EventMQTT):
		d.applyLinkEvent(msg, StatusMQTTConnecting, StatusMQTTConnected)
	}

	d.mu.Lock()
	event := MonitorEvent{
		SessionID: d.sessionID,
		Name:      msg.Name,
		Code:      int(msg.Code),
		Data:      msg.Data,
		Time:      now,
	}
	if d.info != nil {
		event.DeviceID = d.info.ID
	}
	d.mu.Unlock()
	d.notifier.post(func(o Observer) { o.OnMonitor(event) })

	if failed {
		reason := msg.Name + " event failed: " + msg.Code.String()
		d.resetAsync(reason)
	}
}

// countRun decrements a run counter and clears flag when it reaches zero.
// It reports whether the event carried an error code.
func (d *Device) countRun(msg *protocol.Message, flag Status, remaining *int, now time.Time) bool {
	d.mu.Lock()
	if *remaining > 0 {
		*remaining--
		if *remaining == 0 {
			d.status &^= flag
		}
	}
	if msg.Code.OK() {
		d.lastEvent = now
	}
	d.mu.Unlock()

	if !msg.Code.OK() {
		d.logError("device reported failed event", "name", msg.Name, "code", int(msg.Code), "status", msg.Code.String())
		return true
	}
	return false
}

// applyLinkEvent updates connectivity flags from a WIFI or MQTT event.
// Supervisor events only report the link, they do not end a connection attempt.
func (d *Device) applyLinkEvent(msg *protocol.Message, connecting, connected Status) {
	var payload linkEvent
	state := LinkDown
	if msg.Code.OK() && len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err == nil {
			state = payload.Status
		}
	}

	set, clear := Status(0), Status(0)
	switch state {
	case LinkUp:
		set, clear = connected, connecting
	case LinkConnecting:
		set, clear = connecting, connected
	default:
		clear = connected
		if !msg.NameContains(protocol.EventSupervisor) {
			clear |= connecting
		}
	}
	d.updateStatus(set, clear)
}

// handleLog forwards a device log line to observers.
func (d *Device) handleLog(msg *protocol.Message) {
	d.mu.Lock()
	d.lastAlive = time.Now()
	entry := LogEntry{
		SessionID: d.sessionID,
		Code:      int(msg.Code),
		Message:   msg.DataString(),
		Time:      d.lastAlive,
	}
	if d.info != nil {
		entry.DeviceID = d.info.ID
	}
	d.mu.Unlock()

	d.logDebug("device log", "code", entry.Code, "message", entry.Message)
	d.notifier.post(func(o Observer) { o.OnLog(entry) })
}
