// Package logging provides the engine's single zerolog configuration point.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger scoped to a single component (e.g. "scheduler",
// "telemetry", "httpapi"), writing structured JSON lines to w.
func New(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewConsole is New but with a human-readable console writer, for local
// development and the CLI entrypoint's default.
func NewConsole(component string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Str("component", component).Logger()
}
