// Package nft mints the testnet NFT to each wallet.
package nft

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// DefaultContract is the NFT contract on the L2.
	DefaultContract = "0x5E2C8EF3035feeC3056864512Aaf8f4dc88CaEe3"
	// MintGasLimit is the gas ceiling of a mint.
	MintGasLimit = 300_000
)

// MintOps is the subset of chain.Client used to mint.
type MintOps interface {
	Address() common.Address
	MintNFT(ctx context.Context, nft, to common.Address, gasLimit uint64) (*types.Receipt, error)
	NFTBalance(ctx context.Context, nft, owner common.Address) (*big.Int, error)
}

// Reporter is notified after each wallet's mint.
type Reporter func(wallet common.Address, tx common.Hash, err error)

// Result is the outcome for one wallet.
type Result struct {
	Wallet common.Address
	Before *big.Int
	After  *big.Int
	TxHash common.Hash
	Err    error
}

// Minter mints one NFT per wallet.
type Minter struct {
	contract common.Address
	logger   *slog.Logger
}

// NewMinter creates a Minter for contract.
func NewMinter(contract common.Address, logger *slog.Logger) *Minter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Minter{contract: contract, logger: logger}
}

// Mint reads the wallet's balance, mints to itself and reads the balance again.
func (m *Minter) Mint(ctx context.Context, ops MintOps) Result {
	wallet := ops.Address()
	res := Result{Wallet: wallet}

	before, err := ops.NFTBalance(ctx, m.contract, wallet)
	if err != nil {
		res.Err = err
		m.logger.Error("Error minting NFT", slog.String("wallet", wallet.Hex()), slog.String("error", err.Error()))
		return res
	}
	res.Before = before
	m.logger.Info("Current NFT balance", slog.String("wallet", wallet.Hex()), slog.String("balance", before.String()))

	m.logger.Info("Minting NFT", slog.String("to", wallet.Hex()))
	receipt, err := ops.MintNFT(ctx, m.contract, wallet, MintGasLimit)
	if receipt != nil {
		res.TxHash = receipt.TxHash
	}
	if err != nil {
		res.Err = err
		m.logger.Error("Error minting NFT", slog.String("wallet", wallet.Hex()), slog.String("error", err.Error()))
		return res
	}
	m.logger.Info("NFT mint transaction confirmed", slog.String("tx", res.TxHash.Hex()))

	after, err := ops.NFTBalance(ctx, m.contract, wallet)
	if err != nil {
		// The mint landed; only the confirmation read failed.
		m.logger.Warn("Failed to read new NFT balance", slog.String("error", err.Error()))
		return res
	}
	res.After = after
	m.logger.Info("New NFT balance", slog.String("wallet", wallet.Hex()), slog.String("balance", after.String()))
	return res
}

// MintAll mints for each wallet in order. Failures do not stop the loop.
func (m *Minter) MintAll(ctx context.Context, wallets []MintOps, report Reporter) ([]Result, error) {
	results := make([]Result, 0, len(wallets))
	for _, ops := range wallets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := m.Mint(ctx, ops)
		if report != nil {
			report(res.Wallet, res.TxHash, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}
