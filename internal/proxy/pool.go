package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

// Config configures pool construction.
type Config struct {
	// URL is the single configured proxy. Empty means proxy-less.
	URL string
	// EchoURL is the IP echo endpoint for self-tests.
	EchoURL string
	// TestTimeout bounds each self-test request.
	TestTimeout time.Duration
	// RequestTimeout bounds requests made through pooled proxies.
	RequestTimeout time.Duration
}

// Pool is the set of usable proxies. An empty pool means requests go direct.
type Pool struct {
	proxies []*Descriptor
	rnd     random.Source
	cfg     Config
	logger  *slog.Logger
}

// NewPool builds the pool from cfg. A malformed URL or a failed self-test is
// logged and yields an empty pool; it is never returned as an error.
func NewPool(ctx context.Context, cfg Config, rnd random.Source, logger *slog.Logger) *Pool {
	p := newPool(cfg, rnd, logger)
	if cfg.URL == "" {
		p.logger.Warn("No proxy configured, running without proxy")
		return p
	}

	d, err := Parse(cfg.URL, cfg.RequestTimeout)
	if err != nil {
		p.logger.Error("Invalid proxy configuration, running without proxy", slog.String("error", err.Error()))
		return p
	}

	ip, err := d.Test(ctx, cfg.EchoURL, cfg.TestTimeout)
	if err != nil {
		p.logger.Error("Proxy self-test failed, running without proxy",
			slog.String("proxy", d.String()),
			slog.String("error", err.Error()),
		)
		return p
	}

	p.logger.Info("Proxy connected",
		slog.String("proxy", d.String()),
		slog.String("ip", ip),
	)
	p.proxies = []*Descriptor{d}
	return p
}

// NewStaticPool wraps already-built descriptors without self-testing them.
func NewStaticPool(cfg Config, rnd random.Source, logger *slog.Logger, proxies ...*Descriptor) *Pool {
	p := newPool(cfg, rnd, logger)
	p.proxies = proxies
	return p
}

func newPool(cfg Config, rnd random.Source, logger *slog.Logger) *Pool {
	if rnd == nil {
		rnd = random.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{rnd: rnd, cfg: cfg, logger: logger}
}

// Len returns the number of usable proxies.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// Pick returns a uniformly chosen proxy, or nil when the pool is empty
// and the caller should proceed without a proxy.
func (p *Pool) Pick() *Descriptor {
	if p.Len() == 0 {
		return nil
	}
	return p.proxies[p.rnd.IntN(len(p.proxies))]
}

// All returns the pooled proxies.
func (p *Pool) All() []*Descriptor {
	if p == nil {
		return nil
	}
	return p.proxies
}

// TestAll self-tests every proxy concurrently and reports each outcome,
// whether it succeeded or not.
func (p *Pool) TestAll(ctx context.Context) []types.ProxyTestResult {
	if p.Len() == 0 {
		if p != nil {
			p.logger.Warn("No proxies available to test")
		}
		return nil
	}

	results := make([]types.ProxyTestResult, len(p.proxies))
	var wg sync.WaitGroup
	for i, d := range p.proxies {
		wg.Add(1)
		go func(i int, d *Descriptor) {
			defer wg.Done()
			res := types.ProxyTestResult{Index: i + 1, Proxy: d.String()}
			ip, err := d.Test(ctx, p.cfg.EchoURL, p.cfg.TestTimeout)
			if err != nil {
				res.Error = err.Error()
				p.logger.Error("Proxy connection failed", slog.Int("proxy", i+1), slog.String("error", err.Error()))
			} else {
				res.IP = ip
				p.logger.Info("Proxy connection succeeded", slog.Int("proxy", i+1), slog.String("ip", ip))
			}
			results[i] = res
		}(i, d)
	}
	wg.Wait()
	return results
}
