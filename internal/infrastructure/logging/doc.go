// Package logging provides structured logging for caphost.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire runtime.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("runtime starting", "device_id", id)
//	logger.Error("publish failed", "error", err)
//
// Never log the provisioned Wi-Fi secret or broker credentials.
package logging
