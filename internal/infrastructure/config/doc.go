// Package config loads config.yaml for the SSCMA host.
//
// Values resolve in three layers: defaults from defaultConfig, the YAML
// file, then SSCMA_* environment variables. Secrets (broker password,
// InfluxDB token) are best injected through the environment:
//
//	SSCMA_MQTT_PASSWORD=... SSCMA_INFLUXDB_TOKEN=... sscma
//
// Durations in the device, protocol and health sections use Go syntax
// ("500ms", "10s"); API and WebSocket timeouts are whole seconds.
package config
