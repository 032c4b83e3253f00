package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// Spin runs action while a spinner titled title is shown and returns the
// action's error. Without a terminal the action simply runs. Quitting the
// spinner cancels the action's context.
func Spin(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !HasTTY {
		return action(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		err = action(ctx)
	}()
	spinner.New().Title(title).Context(ctx).Run()
	cancel()
	<-done
	return err
}
