// Package logging provides structured logging for sensecraft-core.
//
// It wraps log/slog with default fields (service, version) and a
// config-driven level, format, and output.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Device passwords and access keys must never be logged.
package logging
