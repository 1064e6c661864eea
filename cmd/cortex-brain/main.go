package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcliao/cortex-brain/internal/cli"
)

func main() {
	// Interrupts cancel lock waits under the block policy.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
