package obslog

import (
	"os"

	"golang.org/x/term"
)

// isTerminal reports whether f looks like an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
