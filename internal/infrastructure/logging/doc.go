// Package logging configures log/slog for the SSCMA host.
//
// The logging section of config.yaml selects level (debug, info, warn,
// error), format (json or text) and output (stdout, stderr or discard):
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stdout"
//
// Components derive child loggers rather than building their own:
//
//	log := logging.New(cfg.Logging, version)
//	engineLog := log.With("component", "protocol")
//	engineLog.Warn("frame dropped", "reason", "oversize")
//
// Device credentials pass through this process (AT+WIFI, AT+MQTTSERVER).
// Log the SSID or username, never the password.
package logging
