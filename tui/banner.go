package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	bannerForegroupColor = lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"}
	bannerBorderColor    = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerTitleColor     = lipgloss.AdaptiveColor{Light: "#00AAAA", Dark: "#00FFFF"}
	bannerMaxWidth       = 80
	bannerStyle          = lipgloss.NewStyle().
				Padding(0, 1).
				AlignVertical(lipgloss.Top).
				AlignHorizontal(lipgloss.Left).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle  = lipgloss.NewStyle().Foreground(bannerForegroupColor)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(bannerTitleColor)
)

// RenderBanner renders a bordered block no wider than the terminal.
func RenderBanner(title string, body string) string {
	width := min(Width(), bannerMaxWidth) - 4
	block := bannerTitleStyle.Render(title) + "\n" + bannerBodyStyle.Width(width).Render(body)
	return bannerStyle.Render(block)
}
