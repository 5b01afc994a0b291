// Package obslog provides the continuity store's own operator-facing
// structured logging, distinct from the action stream it writes: console
// output on a TTY, JSON otherwise.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a component-scoped logger writing to w (os.Stderr in
// production, a buffer in tests). When w is a terminal, output is
// human-readable; otherwise it is newline-delimited JSON suitable for
// aggregation.
func New(w io.Writer, component string) zerolog.Logger {
	var output io.Writer = w
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		output = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}

// Default builds a new component-scoped logger writing to os.Stderr. Each
// component calls it from its own constructor; no logger is shared at
// package level.
func Default(component string) zerolog.Logger {
	return New(os.Stderr, component)
}
