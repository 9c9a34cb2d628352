// Package influxdb writes device telemetry to InfluxDB 2.x.
//
// Points are batched by influxdb-client-go's non-blocking write API:
//
//	inference            one point per INVOKE or SAMPLE event
//	device_connectivity  one point per link transition
//	device_log           custom points via WritePoint
//
// Write methods silently drop points when the client is not connected, so
// observers can call them unconditionally.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without a telemetry sink
//	}
//	client.SetOnError(func(err error) { log.Warn("telemetry write failed", "error", err) })
package influxdb
