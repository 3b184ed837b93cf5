package app

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/testnetbot/internal/account"
	"github.com/gateway-fm/testnetbot/internal/config"
	"github.com/gateway-fm/testnetbot/internal/logging"
	"github.com/gateway-fm/testnetbot/internal/metrics"
	"github.com/gateway-fm/testnetbot/internal/proxy"
	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/internal/storage"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{Level: level, Format: cfg.LogFormat})
}

// FromConfig wires a Service from cfg: the proxy pool (self-tested),
// wallet store, run ledger and metrics registered on reg. The ledger is
// closed by Service.Close.
func FromConfig(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*Service, error) {
	rnd := random.Default()

	pool := proxy.NewPool(ctx, proxy.Config{
		URL:            cfg.ProxyURL,
		EchoURL:        cfg.IPEchoURL,
		TestTimeout:    cfg.ProxyTestTimeout,
		RequestTimeout: cfg.FaucetTimeout,
	}, rnd, logger)

	var ledger storage.Storage
	if cfg.DatabasePath != "" {
		db, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Run ledger opened", slog.String("path", cfg.DatabasePath))
		ledger = db
	}

	var m *metrics.PrometheusMetrics
	if reg != nil {
		m = metrics.NewPrometheusMetrics(reg)
	}

	svc, err := New(Deps{
		Config:  cfg,
		Store:   account.NewStore(cfg.WalletPath, logger),
		Ledger:  ledger,
		Metrics: m,
		Proxies: pool,
		Random:  rnd,
		Logger:  logger,
	})
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, err
	}
	if ledger != nil {
		svc.onClose = append(svc.onClose, ledger.Close)
	}
	return svc, nil
}
