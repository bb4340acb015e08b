// Package logging provides structured logging for the NGBS Icon bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Size-based file rotation via lumberjack when output is "file"
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/ngbsicon.log"
//	    max_size: 10     # megabytes
//	    max_backups: 3
//	    max_age: 28      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("starting bridge", "controllers", n)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
