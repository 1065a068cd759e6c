// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing JSON lines, or a human-readable console
// stream when development is set. Unknown levels fall back to info.
func New(development bool, level string) zerolog.Logger {
	return NewWithWriter(development, level, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(development bool, level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if development {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "pickup-match").
		Logger()
}
