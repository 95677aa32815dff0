package tui

import (
	"os"

	"golang.org/x/term"
)

// IsStdoutTerminal reports whether stdout is a terminal
func IsStdoutTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsTerminal reports whether stdin is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsInteractive reports whether both ends of the session are a terminal,
// which the full-screen console needs
func IsInteractive() bool {
	return IsTerminal() && IsStdoutTerminal()
}
