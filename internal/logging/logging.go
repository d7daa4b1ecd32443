// Package logging builds the zerolog loggers used by the commands and the
// defaults used by components that were not given one.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the process logger. With verbose set, debug messages are
// included. With json set, records are written as JSON lines, otherwise in
// the human-readable console format.
func New(w io.Writer, verbose, json bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Or returns l, or a logger that discards everything if l is nil.
func Or(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}

// Component returns a child of l tagged with the component kind and name.
func Component(l *zerolog.Logger, component, name string) zerolog.Logger {
	c := Or(l).With().Str("component", component)
	if name != "" {
		c = c.Str("name", name)
	}
	return c.Logger()
}
