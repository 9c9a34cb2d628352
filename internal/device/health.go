package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/sscma-core/internal/protocol"
)

// healthLoop runs checkHealth every heartbeat until Stop.
func (d *Device) healthLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case now := <-ticker.C:
			d.checkHealth(now)
		}
	}
}

// checkHealth re-issues a silent run or probes an idle device.
func (d *Device) checkHealth(now time.Time) {
	d.mu.Lock()
	status := d.status
	lastEvent := d.lastEvent
	lastAlive := d.lastAlive
	in := d.intent
	d.mu.Unlock()

	running := status&(StatusSampling|StatusInvoking) != 0
	switch {
	case running && now.Sub(lastEvent) > d.opts.Timeout:
		d.logWarn("no events from running device, re-issuing",
			"operation", in.op.String(), "count", in.count, "silent_for", now.Sub(lastEvent).String())

		d.mu.Lock()
		d.lastEvent = now
		d.mu.Unlock()

		if _, err := d.run(d.ctx, in); err != nil {
			d.logWarn("re-issue failed", "operation", in.op.String(), "error", err)
		}

	case status.Has(StatusReady) && now.Sub(lastAlive) > d.opts.Keepalive:
		if err := d.probe(); err != nil {
			d.logWarn("device failed keepalive probe", "error", err)
			if rerr := d.reset(d.ctx, "keepalive probe failed"); rerr != nil {
				d.logWarn("reset after keepalive failure", "error", rerr)
			}
			return
		}
		d.mu.Lock()
		d.lastAlive = time.Now()
		d.mu.Unlock()
	}
}

// probe asks for the device ID with the identity timeout.
func (d *Device) probe() error {
	reply, err := d.engine.Get(d.ctx, protocol.CmdID, protocol.WithTimeout(d.opts.IdentityTimeout))
	if err != nil {
		return err
	}
	if !reply.HasData() {
		return fmt.Errorf("%w: %s", ErrNoIdentity, protocol.CmdID)
	}
	return nil
}
