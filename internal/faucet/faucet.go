// Package faucet claims test funds from the faucet HTTP API.
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/batch"
	"github.com/gateway-fm/testnetbot/internal/proxy"
	"github.com/gateway-fm/testnetbot/internal/retry"
)

// DefaultEndpoint is the faucet claim URL.
const DefaultEndpoint = "https://faucet.haust.app/api/claim"

// DefaultPolicy is 5 attempts with delays min(10s, 2s*2^k).
var DefaultPolicy = retry.Policy{
	MaxAttempts: 5,
	Delay:       retry.Exponential(2*time.Second, 10*time.Second),
}

// StatusError is a non-2xx faucet response. Every status, 4xx included,
// counts as a failed attempt and is retried under the claim policy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ProxyPicker chooses a proxy per attempt. Pick returns nil for a direct request.
type ProxyPicker interface {
	Pick() *proxy.Descriptor
}

// Observer receives claim outcomes.
type Observer interface {
	ClaimFinished(success bool)
}

// Config configures the Client.
type Config struct {
	Endpoint string
	// Timeout bounds each direct request. Proxied requests use the descriptor's client.
	Timeout time.Duration
	// RatePerSecond paces requests across all claims. 0 disables pacing.
	RatePerSecond float64
	Policy        retry.Policy
	BatchSize     int
}

// Client claims faucet funds for addresses.
type Client struct {
	endpoint  string
	direct    *http.Client
	proxies   ProxyPicker
	limiter   *rate.Limiter
	policy    retry.Policy
	batchSize int
	executor  *retry.Executor
	observer  Observer
	logger    *slog.Logger
}

// NewClient creates a faucet client. proxies may be nil.
func NewClient(cfg Config, proxies ProxyPicker, executor *retry.Executor, observer Observer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultPolicy
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		direct:    &http.Client{Timeout: cfg.Timeout},
		proxies:   proxies,
		limiter:   rate.NewLimiter(limit, 1),
		policy:    cfg.Policy,
		batchSize: cfg.BatchSize,
		executor:  executor,
		observer:  observer,
		logger:    logger,
	}
}

// Claim requests funds for address. Each attempt picks a fresh proxy so a
// failing proxy is not reused deterministically. The returned error is the
// exhausted-retries error; callers log it and move on.
func (c *Client) Claim(ctx context.Context, address string) (string, error) {
	body, err := retry.Do(ctx, c.executor, "faucet claim "+address, c.policy, func(ctx context.Context) (string, error) {
		return c.claimOnce(ctx, address)
	})
	if c.observer != nil {
		c.observer.ClaimFinished(err == nil)
	}
	if err != nil {
		c.logger.Error("Faucet claim failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	c.logger.Info("Faucet claim succeeded",
		slog.String("address", address),
		slog.String("response", body),
	)
	return body, nil
}

func (c *Client) claimOnce(ctx context.Context, address string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	client := c.direct
	if c.proxies != nil {
		if d := c.proxies.Pick(); d != nil {
			client = d.Client()
			c.logger.Debug("Claiming through proxy", slog.String("address", address), slog.String("proxy", d.String()))
		} else {
			c.logger.Debug("No proxy available, claiming directly", slog.String("address", address))
		}
	}

	payload, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.Transient("faucet claim", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: text}
	}
	return text, nil
}

// ClaimAll claims for every address through the batch runner. One address
// failing never stops the others.
func (c *Client) ClaimAll(ctx context.Context, addresses []string, onItem func(i int, err error)) (batch.Summary, error) {
	return batch.Run(ctx, addresses, c.batchSize, func(ctx context.Context, address string) error {
		_, err := c.Claim(ctx, address)
		return err
	}, batch.Options{
		Logger: c.logger,
		Label:  func(i int) string { return addresses[i] },
		OnItem: onItem,
	})
}
