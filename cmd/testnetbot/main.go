// Command testnetbot is the interactive menu for the Haust testnet bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/testnetbot/internal/app"
	"github.com/gateway-fm/testnetbot/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The menu has no /metrics endpoint; a private registry keeps the
	// observers wired without exporting anything.
	svc, err := app.FromConfig(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Error("Failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer svc.Close()

	menu := NewMenu(svc, os.Stdin, os.Stdout, logger)
	if err := menu.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Menu stopped", slog.String("error", err.Error()))
	}
	logger.Info("Goodbye")
}
