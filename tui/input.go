package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/roommate-match/go-client/logger"
)

var inputTheme = huh.ThemeBase16()

func Input(logger logger.Logger, title string, description string) string {
	return InputWithValidation(logger, title, description, 0, nil)
}

func InputWithValidation(logger logger.Logger, title string, description string, maxLength int, validate func(string) error) string {
	var value string
	if err := newInput(title, description, maxLength, validate, &value).
		WithTheme(inputTheme).
		Run(); err != nil {
		logger.Fatal("%s", err)
	}
	return value
}

func newInput(title string, description string, maxLength int, validate func(string) error, value *string) *huh.Input {
	in := huh.NewInput().
		Title(title).
		Prompt("> ").
		Description(description).
		Value(value)
	if maxLength > 0 {
		in = in.CharLimit(maxLength)
	}
	if validate != nil {
		in = in.Validate(validate)
	}
	return in
}

func Password(logger logger.Logger, title string, description string) string {
	var value string
	if err := huh.NewInput().
		Title(title).
		Prompt("> ").
		Description(description).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		WithTheme(inputTheme).
		Run(); err != nil {
		logger.Fatal("%s", err)
	}
	return value
}
