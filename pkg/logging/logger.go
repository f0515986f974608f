// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

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
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a configured level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun adds the collection and run id of a harvesting run to a logger.
func WithRun(logger zerolog.Logger, collection, runID string) zerolog.Logger {
	return logger.With().Str("collection", collection).Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: per-attempt detail
//   - Individual page requests (offset, page_size)
//   - Archived page reuse
//   - State transitions, worker completion
//
// Info: normal progress
//   - Run start and end with summary counts
//   - Page commits
//   - Fetch success after retry
//
// Warn: degraded but progressing
//   - Retry attempts (error_class, backoff)
//   - Malformed pages recorded as gaps
//   - Storage retry attempts
//
// Error: terminal conditions
//   - Failed collection runs (failure_kind, last_committed_offset)
//   - Malformed response bodies (body_prefix)
//   - Configuration errors
//
// Context Fields:
//   - component: fetch-client, pagination, orchestrator, harvester
//   - collection, run_id: set on every per-run line
//   - offset, page_size, items: page position and size
//   - error_class: rate_limit, server, network, client, malformed
//   - attempt, backoff: retry progress
