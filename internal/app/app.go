// Package app ties the bot's components together: it owns the wallet store,
// proxy pool, chain connections and run ledger, and executes commands one at a
// time on behalf of the menu, the deploy scheduler and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/testnetbot/internal/account"
	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/chain"
	"github.com/gateway-fm/testnetbot/internal/config"
	"github.com/gateway-fm/testnetbot/internal/contract"
	"github.com/gateway-fm/testnetbot/internal/metrics"
	"github.com/gateway-fm/testnetbot/internal/proxy"
	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/internal/retry"
	"github.com/gateway-fm/testnetbot/internal/storage"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

var (
	// ErrBusy is returned when a command is requested while another runs.
	ErrBusy = errors.New("another command is running")
	// ErrLedgerDisabled is returned by history queries without a database.
	ErrLedgerDisabled = errors.New("run ledger is disabled")
	// ErrExitCommand is returned when exit is requested outside the menu.
	ErrExitCommand = errors.New("exit is only available from the menu")
)

// MaxCreateWallets bounds a single create-wallets run.
const MaxCreateWallets = 1000

// DialFunc connects to an RPC endpoint.
type DialFunc func(ctx context.Context, url string) (chain.Backend, error)

// EventSink receives every event of every run.
type EventSink interface {
	Publish(event types.Event)
}

// Deps are the collaborators of a Service. Only Config and Store are required.
type Deps struct {
	Config   *config.Config
	Store    *account.Store
	Ledger   storage.Storage
	Metrics  *metrics.PrometheusMetrics
	Proxies  *proxy.Pool
	Compiler contract.Compiler
	Dial     DialFunc
	Random   random.Source
	Sleep    retry.SleepFunc
	Logger   *slog.Logger
}

type handler func(ctx context.Context, r *Run, req types.RunRequest) error

// Service executes commands. At most one command runs at a time.
type Service struct {
	cfg      *config.Config
	store    *account.Store
	ledger   storage.Storage
	metrics  *metrics.PrometheusMetrics
	proxies  *proxy.Pool
	compiler contract.Compiler
	dial     DialFunc
	rnd      random.Source
	sleep    retry.SleepFunc
	executor *retry.Executor
	logger   *slog.Logger
	handlers map[types.Command]handler

	startTime time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	active     *Run
	sinks      []EventSink
	nextDeploy func() *time.Time

	backendsMu sync.Mutex
	backends   map[string]chain.Backend

	onClose []func() error
}

// New creates a Service.
func New(d Deps) (*Service, error) {
	if d.Config == nil || d.Store == nil {
		return nil, apperr.Config("new service", errors.New("config and wallet store are required"))
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Random == nil {
		d.Random = random.Default()
	}
	if d.Sleep == nil {
		d.Sleep = retry.Sleep
	}
	if d.Dial == nil {
		d.Dial = func(ctx context.Context, url string) (chain.Backend, error) {
			return chain.Dial(ctx, url)
		}
	}
	if d.Compiler == nil {
		d.Compiler = DefaultCompiler(d.Config)
	}

	opts := []retry.Option{retry.WithLogger(d.Logger), retry.WithSleep(d.Sleep)}
	if d.Metrics != nil {
		opts = append(opts, retry.WithObserver(d.Metrics))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       d.Config,
		store:     d.Store,
		ledger:    d.Ledger,
		metrics:   d.Metrics,
		proxies:   d.Proxies,
		compiler:  d.Compiler,
		dial:      d.Dial,
		rnd:       d.Random,
		sleep:     d.Sleep,
		executor:  retry.New(opts...),
		logger:    d.Logger,
		startTime: time.Now(),
		runCtx:    runCtx,
		cancel:    cancel,
		backends:  make(map[string]chain.Backend),
	}
	s.handlers = map[types.Command]handler{
		types.CommandCreateWallets: s.createWallets,
		types.CommandClaimFaucet:   s.claimFaucet,
		types.CommandDeploy:        s.deploy,
		types.CommandDistribute:    s.distribute,
		types.CommandMintNFT:       s.mintNFT,
		types.CommandTestProxies:   s.testProxies,
		types.CommandExit:          s.exit,
	}
	for _, c := range types.Commands {
		if _, ok := s.handlers[c]; !ok {
			cancel()
			return nil, apperr.Config("new service", fmt.Errorf("no handler for command %s", c))
		}
	}
	return s, nil
}

// DefaultCompiler returns the precompiled artifact loader when one is
// configured and solc otherwise, cached across runs.
func DefaultCompiler(cfg *config.Config) contract.Compiler {
	if cfg.TokenArtifact != "" {
		return contract.NewCachedCompiler(&contract.FileCompiler{Path: cfg.TokenArtifact})
	}
	return contract.NewCachedCompiler(&contract.SolcCompiler{Path: cfg.SolcPath})
}

// Subscribe registers a sink for run events.
func (s *Service) Subscribe(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SetNextDeploy registers the source of the next scheduled deploy time.
func (s *Service) SetNextDeploy(fn func() *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeploy = fn
}

// ValidateRequest checks req without running it.
func ValidateRequest(req types.RunRequest) error {
	if !req.Command.Valid() {
		return fmt.Errorf("unknown command %q", req.Command)
	}
	switch req.Command {
	case types.CommandExit:
		return ErrExitCommand
	case types.CommandCreateWallets:
		if req.Count < 1 || req.Count > MaxCreateWallets {
			return fmt.Errorf("count must be between 1 and %d, got %d", MaxCreateWallets, req.Count)
		}
	case types.CommandDistribute:
		if req.Amount != "" {
			v, err := chain.ParseEther(req.Amount)
			if err != nil {
				return err
			}
			if v.Sign() <= 0 {
				return fmt.Errorf("amount must be positive")
			}
		}
	}
	return nil
}

// Execute runs req to completion. Exit is accepted here so the menu can
// route every choice through one table.
func (s *Service) Execute(ctx context.Context, req types.RunRequest) (types.RunSummary, error) {
	if req.Command != types.CommandExit {
		if err := ValidateRequest(req); err != nil {
			return types.RunSummary{}, apperr.Config(string(req.Command), err)
		}
	}
	run, err := s.begin(req.Command)
	if err != nil {
		return types.RunSummary{}, err
	}
	return s.execute(ctx, run, req)
}

// Start validates req and runs it in the background, returning immediately.
func (s *Service) Start(req types.RunRequest) (types.RunResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return types.RunResponse{}, apperr.Config(string(req.Command), err)
	}
	run, err := s.begin(req.Command)
	if err != nil {
		return types.RunResponse{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.runCtx, run, req)
	}()
	return types.RunResponse{ID: run.ID, Command: run.Command}, nil
}

func (s *Service) begin(cmd types.Command) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}
	run := &Run{
		ID:        uuid.New().String(),
		Command:   cmd,
		StartedAt: time.Now(),
		svc:       s,
	}
	s.active = run
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *Run, req types.RunRequest) (summary types.RunSummary, err error) {
	logger := s.logger.With(slog.String("run", run.ID), slog.String("command", string(run.Command)))
	logger.Info("Running command", slog.String("title", run.Command.Title()))

	if s.metrics != nil {
		s.metrics.RunStarted()
	}
	s.persistRun(&types.RunSummary{ID: run.ID, Command: run.Command, Status: types.RunStatusRunning, StartedAt: run.StartedAt})

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		summary = run.summary(err)
		s.finishRun(&summary)

		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()

		if err != nil {
			logger.Error("Command failed", slog.String("error", err.Error()))
		} else {
			logger.Info("Command complete",
				slog.Int("succeeded", summary.Succeeded),
				slog.Int("failed", summary.Failed),
			)
		}
	}()

	h := s.handlers[run.Command]
	return types.RunSummary{}, h(ctx, run, req)
}

func (s *Service) persistRun(r *types.RunSummary) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.CreateRun(ctx, r); err != nil {
		s.logger.Warn("Failed to record run", slog.String("run", r.ID), slog.String("error", err.Error()))
	}
}

func (s *Service) finishRun(r *types.RunSummary) {
	if s.metrics != nil {
		s.metrics.RunFinished(string(r.Command), string(r.Status))
	}
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.CompleteRun(ctx, r); err != nil {
		s.logger.Warn("Failed to complete run", slog.String("run", r.ID), slog.String("error", err.Error()))
	}
}

// Status reports whether a command is running and the bot's inventory.
func (s *Service) Status() types.Status {
	s.mu.Lock()
	active := s.active
	next := s.nextDeploy
	s.mu.Unlock()

	st := types.Status{
		Proxies:   s.proxies.Len(),
		UptimeSec: int64(time.Since(s.startTime).Seconds()),
	}
	if active != nil {
		st.Busy = true
		st.ActiveRun = active.ID
		st.ActiveCommand = active.Command
	}
	if entries, err := s.store.Load(); err == nil {
		st.Wallets = len(entries)
	}
	if next != nil {
		st.NextDeploy = next()
	}
	return st
}

// Wallets lists stored wallet addresses.
func (s *Service) Wallets() ([]types.Wallet, error) {
	entries, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	out := make([]types.Wallet, len(entries))
	for i, e := range entries {
		out[i] = types.Wallet{Index: i + 1, Address: e.Address}
	}
	return out, nil
}

// RequireWallets fails with a fatal startup error unless at least n
// wallets are stored.
func (s *Service) RequireWallets(n int) (int, error) {
	accounts, err := s.store.Require(n)
	return len(accounts), err
}

// ListRuns returns a page of run history.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return s.ledger.ListRuns(ctx, limit, offset)
}

// GetRun returns one run with its events, or nil when unknown.
func (s *Service) GetRun(ctx context.Context, id string) (*types.RunDetail, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return s.ledger.GetRun(ctx, id)
}

// CheckL1RPC verifies the L1 endpoint answers eth_chainId.
func (s *Service) CheckL1RPC(ctx context.Context) error {
	return s.checkRPC(ctx, s.cfg.L1RPCURL)
}

// CheckL2RPC verifies the L2 endpoint answers eth_chainId.
func (s *Service) CheckL2RPC(ctx context.Context) error {
	return s.checkRPC(ctx, s.cfg.L2RPCURL)
}

func (s *Service) checkRPC(ctx context.Context, url string) error {
	b, err := s.backend(ctx, url)
	if err != nil {
		return err
	}
	_, err = b.ChainID(ctx)
	return err
}

// backend returns a cached connection to url.
func (s *Service) backend(ctx context.Context, url string) (chain.Backend, error) {
	s.backendsMu.Lock()
	defer s.backendsMu.Unlock()
	if b, ok := s.backends[url]; ok {
		return b, nil
	}
	b, err := s.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	s.backends[url] = b
	return b, nil
}

func (s *Service) factory(ctx context.Context, url string) (*chain.Factory, error) {
	b, err := s.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	cfg := chain.Config{ConfirmTimeout: s.cfg.ConfirmTimeout, Logger: s.logger}
	if s.metrics != nil {
		cfg.Observer = s.metrics
	}
	return chain.NewFactory(ctx, b, cfg)
}

// Close cancels background runs, waits for them and closes connections.
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()

	s.backendsMu.Lock()
	for url, b := range s.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
		delete(s.backends, url)
	}
	s.backendsMu.Unlock()

	var errs []error
	for _, fn := range s.onClose {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.onClose = nil
	return errors.Join(errs...)
}
