// Package logging provides structured logging for SmartAuth.
//
// It wraps log/slog so every component logs with the same handler, level
// filter and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge connected", "topic", cfg.Bridge.QueueTopic)
//
// Never log secrets, session tokens, registration codes or password hashes.
// Log identifiers (owner_id, citizen_id, session id) instead.
package logging
