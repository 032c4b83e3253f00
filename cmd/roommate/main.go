// Command roommate is a terminal client for the roommate matching service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roommate-match/go-client/tui"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	current.close()
	if err != nil {
		tui.ShowError("%s", err)
		os.Exit(1)
	}
}
