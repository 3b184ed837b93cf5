// Package contract compiles the token contract, deploys it from each wallet
// and sends transfers from the new token to throwaway addresses.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/testnetbot/internal/account"
	"github.com/gateway-fm/testnetbot/internal/chain"
	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/internal/retry"
)

const (
	// DeployGasLimit is the gas ceiling of the deployment transaction.
	DeployGasLimit = 5_000_000
	// TokenDecimals of the deployed token.
	TokenDecimals = 18
)

// DeployOps is the subset of chain.Client used to deploy and transfer.
type DeployOps interface {
	Address() common.Address
	Deploy(ctx context.Context, contractABI abi.ABI, bytecode []byte, gasLimit uint64, args ...interface{}) (common.Address, *types.Receipt, error)
	Transact(ctx context.Context, contractABI abi.ABI, contract common.Address, gasLimit uint64, method string, args ...interface{}) (*types.Receipt, error)
}

// StepReporter is notified after a deploy or transfer step finishes.
type StepReporter func(wallet common.Address, step string, tx common.Hash, err error)

// Config configures the Deployer.
type Config struct {
	// InitialSupply in whole tokens.
	InitialSupply int64
	GasLimit      uint64
	// MinTransfers and MaxTransfers bound the random transfer count.
	MinTransfers, MaxTransfers int
	// MinAmount and MaxAmount bound the random whole-token transfer amount.
	MinAmount, MaxAmount int
	Policy               retry.Policy
	// Pause between wallets in DeployAll.
	Pause time.Duration
}

// DefaultConfig returns the standard deploy parameters. rnd drives the
// random delay between deploy attempts.
func DefaultConfig(rnd random.Source) Config {
	return Config{
		InitialSupply: 1_000_000,
		GasLimit:      DeployGasLimit,
		MinTransfers:  5,
		MaxTransfers:  20,
		MinAmount:     10,
		MaxAmount:     10_000,
		Policy: retry.Policy{
			MaxAttempts: 3,
			Delay:       retry.RandomRange(500*time.Millisecond, 3*time.Second, rnd),
		},
		Pause: time.Second,
	}
}

// Result holds the result of one wallet's deploy cycle.
type Result struct {
	Wallet           common.Address
	Contract         common.Address
	DeployTx         common.Hash
	Transfers        int
	TransferFailures int
	Recipients       []common.Address
}

// Deployer runs the deploy-and-transfer cycle.
type Deployer struct {
	compiler Compiler
	cfg      Config
	rnd      random.Source
	executor *retry.Executor
	sleep    retry.SleepFunc
	logger   *slog.Logger
}

// NewDeployer creates a new contract deployer.
func NewDeployer(compiler Compiler, cfg Config, rnd random.Source, executor *retry.Executor, logger *slog.Logger) *Deployer {
	if rnd == nil {
		rnd = random.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		compiler: compiler,
		cfg:      cfg,
		rnd:      rnd,
		executor: executor,
		sleep:    retry.Sleep,
		logger:   logger,
	}
}

// SetSleep replaces the pause between wallets.
func (d *Deployer) SetSleep(s retry.SleepFunc) {
	d.sleep = s
}

// Deploy compiles (cached), deploys the token from ops' wallet with retries,
// then sends a random number of transfers to fresh addresses. Transfer
// failures are logged and counted, never returned.
func (d *Deployer) Deploy(ctx context.Context, ops DeployOps, report StepReporter) (Result, error) {
	wallet := ops.Address()
	res := Result{Wallet: wallet}

	artifact, err := d.compiler.Compile(ctx)
	if err != nil {
		return res, fmt.Errorf("compile token: %w", err)
	}

	supply := chain.Units(d.cfg.InitialSupply, TokenDecimals)
	type deployed struct {
		addr    common.Address
		receipt *types.Receipt
	}
	out, err := retry.Do(ctx, d.executor, "deploy "+wallet.Hex(), d.cfg.Policy, func(ctx context.Context) (deployed, error) {
		addr, receipt, err := ops.Deploy(ctx, artifact.ABI, artifact.Bytecode, d.cfg.GasLimit, supply)
		return deployed{addr: addr, receipt: receipt}, err
	})
	if err != nil {
		if report != nil {
			report(wallet, "deploy", common.Hash{}, err)
		}
		d.logger.Error("Contract deployment failed",
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	res.Contract = out.addr
	res.DeployTx = out.receipt.TxHash
	if report != nil {
		report(wallet, "deploy", res.DeployTx, nil)
	}
	d.logger.Info("Contract deployed",
		slog.String("wallet", wallet.Hex()),
		slog.String("address", res.Contract.Hex()),
	)

	d.transfer(ctx, ops, artifact.ABI, &res, report)
	return res, nil
}

func (d *Deployer) transfer(ctx context.Context, ops DeployOps, contractABI abi.ABI, res *Result, report StepReporter) {
	count := random.Between(d.rnd, d.cfg.MinTransfers, d.cfg.MaxTransfers)
	d.logger.Info("Sending transfers to random addresses",
		slog.String("contract", res.Contract.Hex()),
		slog.Int("count", count),
	)

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return
		}
		recipient, err := account.Generate()
		if err != nil {
			res.TransferFailures++
			d.logger.Error("Failed to generate recipient", slog.String("error", err.Error()))
			continue
		}
		whole := random.Between(d.rnd, d.cfg.MinAmount, d.cfg.MaxAmount)
		amount := chain.Units(int64(whole), TokenDecimals)
		res.Recipients = append(res.Recipients, recipient.Address)

		receipt, err := ops.Transact(ctx, contractABI, res.Contract, 0, "transfer", recipient.Address, amount)
		var hash common.Hash
		if receipt != nil {
			hash = receipt.TxHash
		}
		if report != nil {
			report(res.Wallet, "transfer", hash, err)
		}
		if err != nil {
			res.TransferFailures++
			d.logger.Error("Transfer failed",
				slog.String("to", recipient.Address.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Transfers++
		d.logger.Info("Transferred tokens",
			slog.Int("amount", whole),
			slog.String("to", recipient.Address.Hex()),
		)
	}
}

// DeployAll runs Deploy for every wallet in order, pausing between wallets.
// One wallet's failure is logged and the next wallet still runs.
func (d *Deployer) DeployAll(ctx context.Context, wallets []DeployOps, report StepReporter) ([]Result, error) {
	d.logger.Info("Deploying contracts", slog.Int("wallets", len(wallets)))

	results := make([]Result, 0, len(wallets))
	failed := 0
	for i, ops := range wallets {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.Pause); err != nil {
				return results, err
			}
		}
		d.logger.Info("Deploying contract for wallet", slog.String("wallet", ops.Address().Hex()))
		res, err := d.Deploy(ctx, ops, report)
		if err != nil {
			failed++
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
		}
		results = append(results, res)
	}

	d.logger.Info("Contract deployment cycle complete",
		slog.Int("succeeded", len(wallets)-failed),
		slog.Int("failed", failed),
	)
	return results, nil
}
