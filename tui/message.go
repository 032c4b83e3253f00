package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/roommate-match/go-client/logger"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageTextColor    = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	messageTextStyle    = lipgloss.NewStyle().Foreground(messageTextColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
)

type status int

const (
	statusSuccess status = iota
	statusWarning
	statusError
)

var statusIcons = map[status]string{
	statusSuccess: " ✓ ",
	statusWarning: " ✕ ",
	statusError:   " ⚠ ",
}

// renderStatus renders a one line status message.
func renderStatus(s status, msg string, args ...any) string {
	style := messageWarningStyle
	if s == statusSuccess {
		style = messageOKStyle
	}
	return style.Render(statusIcons[s]) + messageTextStyle.Render(fmt.Sprintf(msg, args...))
}

func ShowSuccess(msg string, args ...any) {
	fmt.Println(renderStatus(statusSuccess, msg, args...))
}

func ShowWarning(msg string, args ...any) {
	fmt.Println(renderStatus(statusWarning, msg, args...))
}

func ShowError(msg string, args ...any) {
	fmt.Println(renderStatus(statusError, msg, args...))
}

// Confirm asks a yes or no question. Without a terminal it returns def.
func Confirm(logger logger.Logger, title string, def bool) bool {
	if !HasTTY {
		return def
	}
	confirm := def
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		WithTheme(inputTheme).
		Run(); err != nil {
		logger.Fatal("%s", err)
	}
	return confirm
}
