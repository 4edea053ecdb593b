// Package main is the entry point for pagehub.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fclairamb/pagehub/internal/cmd"
)

const exitUsage = 2

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := cmd.NewApp()
	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("error", "error", err)
		if cmd.IsUsageError(err) {
			return exitUsage
		}
		return 1
	}

	return 0
}
