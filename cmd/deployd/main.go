// Command deployd runs the token deploy cycle on a fixed schedule and serves
// the bot API, the event stream and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/testnetbot/internal/app"
	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/config"
	"github.com/gateway-fm/testnetbot/internal/scheduler"
	"github.com/gateway-fm/testnetbot/internal/transport"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

const shutdownTimeout = 10 * time.Second

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

	if err := run(cfg, logger); err != nil {
		logger.Error("deployd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.FromConfig(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.RequireWallets(1)
	if err != nil {
		return err
	}
	logger.Info("Loaded wallets", slog.Int("count", n))

	sched := scheduler.New(cfg.DeployInterval, func(ctx context.Context) error {
		summary, err := svc.Execute(ctx, types.RunRequest{Command: types.CommandDeploy})
		if errors.Is(err, app.ErrBusy) {
			logger.Warn("Skipping deploy cycle, another command is running")
			return nil
		}
		if apperr.IsKind(err, apperr.KindFatalStartup) {
			// The wallet file disappeared or was emptied since startup.
			return scheduler.Halt(err)
		}
		if err != nil {
			return err
		}
		logger.Info("Deploy cycle finished",
			slog.String("run", summary.ID),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed),
		)
		return nil
	}, logger)
	svc.SetNextDeploy(sched.NextRun)

	hub := transport.NewEventHub(svc.Status, time.Second, logger)
	hub.Start()
	defer hub.Stop()
	svc.Subscribe(hub)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.NewServer(svc, svc, hub, logger, cfg.CORSAllowedOrigins()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
