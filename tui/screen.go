package tui

import (
	"fmt"
	"strings"

	tm "github.com/buger/goterm"
)

// ClearScreen clears the terminal and homes the cursor. It does nothing
// without a terminal.
func ClearScreen() {
	if !HasTTY {
		return
	}
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Flush()
}

// Redraw repaints the terminal with header followed by the last lines that
// fit below it. Without a terminal every line is printed.
func Redraw(header string, lines []string) {
	if !HasTTY {
		fmt.Println(header)
		for _, l := range lines {
			fmt.Println(l)
		}
		return
	}
	ClearScreen()
	tm.Println(header)
	lines = Tail(lines, tm.Height()-strings.Count(header, "\n")-2)
	for _, l := range lines {
		tm.Println(l)
	}
	tm.Flush()
}

// Tail returns the last n lines, or none when n is not positive.
func Tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
