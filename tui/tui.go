package tui

import (
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const defaultWidth = 80

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)

// Width returns the terminal width, or 80 when stdout is not a terminal.
func Width() int {
	if !HasTTY {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
