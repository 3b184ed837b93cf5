// Package bridge mints, approves and bridges the test tokens for each wallet.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/testnetbot/internal/chain"
	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/internal/retry"
)

// Token is a bridgeable test token.
type Token struct {
	Symbol  string
	Address common.Address
}

// Default addresses on Sepolia.
var (
	DefaultBridgeAddress = common.HexToAddress("0x5E2C8EF3035feeC3056864512Aaf8f4dc88CaEe3")

	DefaultTokens = []Token{
		{Symbol: "USDT", Address: common.HexToAddress("0x93C5d30a7509E60871B77A3548a5BD913334cd35")},
		{Symbol: "USDC", Address: common.HexToAddress("0xadbf21cCdFfe308a8d83AC933EF5D3c98830397F")},
		{Symbol: "WBTC", Address: common.HexToAddress("0x21472DF1B5d2b673F6444B41258C6460294a2C06")},
	}
)

const (
	// DefaultDestinationNetwork is the bridge's network id for the Haust chain.
	DefaultDestinationNetwork = 1
	// TokenDecimals of every test token.
	TokenDecimals = 6
	// BridgeGasLimit is the fixed gas ceiling of bridgeAsset.
	BridgeGasLimit = 500_000
)

// DefaultPolicy retries every step 3 times, 5s apart.
var DefaultPolicy = retry.Policy{MaxAttempts: 3, Delay: retry.Fixed(5 * time.Second)}

// TokenOps is the subset of chain.Client used to bridge.
type TokenOps interface {
	Address() common.Address
	Mint(ctx context.Context, token, to common.Address, amount *big.Int) (*types.Receipt, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error)
	BridgeAsset(ctx context.Context, bridge common.Address, p chain.BridgeParams) (*types.Receipt, error)
}

// Step names one of the three per-token steps.
type Step string

const (
	StepMint    Step = "mint"
	StepApprove Step = "approve"
	StepBridge  Step = "bridge"
)

// StepReporter is notified when a step finishes.
type StepReporter func(token Token, step Step, receipt *types.Receipt, err error)

// Config configures the Orchestrator.
type Config struct {
	Tokens             []Token
	Bridge             common.Address
	DestinationNetwork uint32
	// MintAmount is in whole tokens (10000).
	MintAmount int64
	// MinBridge and MaxBridge bound the random bridged amount in whole tokens.
	MinBridge, MaxBridge int
	Policy               retry.Policy
}

// DefaultConfig returns the standard bridge parameters.
func DefaultConfig() Config {
	return Config{
		Tokens:             DefaultTokens,
		Bridge:             DefaultBridgeAddress,
		DestinationNetwork: DefaultDestinationNetwork,
		MintAmount:         10_000,
		MinBridge:          100,
		MaxBridge:          1000,
		Policy:             DefaultPolicy,
	}
}

// TokenResult is the outcome for one token.
type TokenResult struct {
	Token   Token
	Bridged *big.Int
	TxHash  common.Hash
	Err     error
}

// Orchestrator runs the mint, approve, bridge sequence per token.
type Orchestrator struct {
	cfg      Config
	rnd      random.Source
	executor *retry.Executor
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, rnd random.Source, executor *retry.Executor, logger *slog.Logger) *Orchestrator {
	if rnd == nil {
		rnd = random.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, rnd: rnd, executor: executor, logger: logger}
}

// Run processes every configured token in order for the wallet behind ops.
// A token whose sequence fails is logged and skipped; the next token still runs.
func (o *Orchestrator) Run(ctx context.Context, ops TokenOps, report StepReporter) []TokenResult {
	results := make([]TokenResult, 0, len(o.cfg.Tokens))
	for _, token := range o.cfg.Tokens {
		if ctx.Err() != nil {
			results = append(results, TokenResult{Token: token, Err: ctx.Err()})
			continue
		}
		res := o.runToken(ctx, ops, token, report)
		if res.Err != nil {
			o.logger.Error("Token operations failed after all retries",
				slog.String("token", token.Symbol),
				slog.String("wallet", ops.Address().Hex()),
				slog.String("error", res.Err.Error()),
			)
		}
		results = append(results, res)
	}
	return results
}

func (o *Orchestrator) runToken(ctx context.Context, ops TokenOps, token Token, report StepReporter) TokenResult {
	self := ops.Address()
	amount := chain.Units(o.cfg.MintAmount, TokenDecimals)
	res := TokenResult{Token: token}

	step := func(s Step, fn func(context.Context) (*types.Receipt, error)) (*types.Receipt, error) {
		receipt, err := retry.Do(ctx, o.executor, fmt.Sprintf("%s %s", token.Symbol, s), o.cfg.Policy, fn)
		if report != nil {
			report(token, s, receipt, err)
		}
		return receipt, err
	}

	o.logger.Info("Minting tokens",
		slog.String("token", token.Symbol),
		slog.String("amount", chain.FormatUnits(amount, TokenDecimals)),
		slog.String("to", self.Hex()),
	)
	if _, err := step(StepMint, func(ctx context.Context) (*types.Receipt, error) {
		return ops.Mint(ctx, token.Address, self, amount)
	}); err != nil {
		res.Err = err
		return res
	}

	o.logger.Info("Approving tokens",
		slog.String("token", token.Symbol),
		slog.String("spender", o.cfg.Bridge.Hex()),
	)
	if _, err := step(StepApprove, func(ctx context.Context) (*types.Receipt, error) {
		return ops.Approve(ctx, token.Address, o.cfg.Bridge, amount)
	}); err != nil {
		res.Err = err
		return res
	}

	whole := random.Between(o.rnd, o.cfg.MinBridge, o.cfg.MaxBridge)
	bridged := chain.Units(int64(whole), TokenDecimals)
	o.logger.Info("Bridging tokens",
		slog.String("token", token.Symbol),
		slog.Int("amount", whole),
		slog.Int("destination_network", int(o.cfg.DestinationNetwork)),
	)
	receipt, err := step(StepBridge, func(ctx context.Context) (*types.Receipt, error) {
		return ops.BridgeAsset(ctx, o.cfg.Bridge, chain.BridgeParams{
			DestinationNetwork:        o.cfg.DestinationNetwork,
			DestinationAddress:        self,
			Amount:                    bridged,
			Token:                     token.Address,
			ForceUpdateGlobalExitRoot: true,
			PermitData:                []byte{},
			GasLimit:                  BridgeGasLimit,
		})
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Bridged = bridged
	res.TxHash = receipt.TxHash
	return res
}
