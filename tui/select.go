package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/roommate-match/go-client/logger"
)

type Option struct {
	ID       string
	Text     string
	Selected bool
}

func Select(logger logger.Logger, title string, description string, items []Option) string {
	var selected string

	var opts []huh.Option[string]
	for _, item := range items {
		opts = append(opts, huh.NewOption(item.Text, item.ID).Selected(item.Selected))
	}

	if err := huh.NewSelect[string]().
		Title(title).
		Description(description).
		Options(opts...).
		Value(&selected).
		WithTheme(inputTheme).
		Run(); err != nil {
		logger.Fatal("%s", err)
	}

	return selected
}
