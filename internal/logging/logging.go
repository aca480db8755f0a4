// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures the logger. Output goes to stderr unless File is set so
// command output on stdout stays machine-readable.
type Options struct {
	Level  string `json:"level" yaml:"level" koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `json:"format" yaml:"format" koanf:"format" validate:"omitempty,oneof=json console"`
	File   string `json:"file" yaml:"file" koanf:"file"`
}

// DefaultOptions logs warnings and above as JSON.
func DefaultOptions() Options {
	return Options{Level: "warn", Format: "json"}
}

// New creates a logger from opts.
func New(opts Options) (zerolog.Logger, error) {
	var out io.Writer = os.Stderr
	if opts.File != "" {
		//nolint:gosec // log path is operator supplied
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		out = f
	}
	return NewWithWriter(out, opts), nil
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, opts Options) zerolog.Logger {
	if opts.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: opts.File != ""}
	}
	return zerolog.New(w).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
