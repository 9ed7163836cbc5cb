// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added as the "service" field of every entry when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Component loggers created by
// NewLogger afterwards inherit its output and service field.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// ParseBool reports whether an environment-style flag value is set
// ("1", "true", "yes", "on").
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parseLevel converts LogLevel to zerolog.Level. Unknown or empty values
// fall back to info; "warning" is accepted for warn.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = string(LevelWarn)
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every page fetch (count, max_id cursor, budget_remaining)
//   - Watermark loads from the store
//   - Outgoing request URLs
//
// Info: Normal operation events
//   - Page loop summaries (pages, items, stop reason)
//   - Watermark advances
//   - Healthy rate limit state updates
//   - Archive files written
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Low request budget
//   - Retry attempts
//   - Partial results after a failed page fetch
//   - Watermark persistence failures
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Exhausted rate limit window
//   - Redis unavailability
//
// Context Fields:
//   - service: process name set by Setup
//   - component: pager, session, search-client, ratelimit, archive, server
//   - request_id: front door request, echoed in X-Request-ID
//   - key: watermark key of a session
//   - page, count, items: page loop progress
//   - max_id, watermark: cursors
//   - budget_remaining: requests left in the rate limit window
//   - status, error_class: HTTP status and error classification
//   - duration: elapsed time
