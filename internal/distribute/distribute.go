// Package distribute sends native currency from the first wallet to every
// other wallet.
package distribute

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/chain"
)

// ErrNoRecipients is returned when fewer than two wallets exist.
var ErrNoRecipients = errors.New("at least 2 wallets are required to distribute")

// NativeSender is the subset of chain.Client used to send native currency.
type NativeSender interface {
	Address() common.Address
	SendNative(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64) (*types.Receipt, error)
}

// Reporter is notified after each send.
type Reporter func(to common.Address, tx common.Hash, err error)

// Result summarizes a distribution.
type Result struct {
	From      common.Address
	Amount    *big.Int
	Succeeded int
	Failed    int
}

// Distributor sends a fixed amount to each recipient.
type Distributor struct {
	logger *slog.Logger
}

// New creates a Distributor.
func New(logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{logger: logger}
}

// Distribute sends amount (decimal ether, e.g. "0.01") from sender to each
// recipient exactly once, in order. A failed send is logged and the next
// recipient still gets paid. The sender itself is skipped if listed.
func (d *Distributor) Distribute(ctx context.Context, sender NativeSender, recipients []common.Address, amount string, report Reporter) (Result, error) {
	from := sender.Address()
	res := Result{From: from}

	value, err := chain.ParseEther(amount)
	if err != nil {
		return res, apperr.Config("distribute", err)
	}
	if value.Sign() <= 0 {
		return res, apperr.Config("distribute", errors.New("amount must be positive"))
	}
	res.Amount = value

	targets := make([]common.Address, 0, len(recipients))
	for _, r := range recipients {
		if r != from {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return res, apperr.Fatal("distribute", ErrNoRecipients)
	}

	d.logger.Info("Distributing native currency",
		slog.String("from", from.Hex()),
		slog.String("amount", amount),
		slog.Int("recipients", len(targets)),
	)

	for _, to := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d.logger.Info("Sending funds", slog.String("to", to.Hex()), slog.String("amount", amount))
		receipt, err := sender.SendNative(ctx, to, value, chain.NativeTransferGas)
		var hash common.Hash
		if receipt != nil {
			hash = receipt.TxHash
		}
		if report != nil {
			report(to, hash, err)
		}
		if err != nil {
			res.Failed++
			d.logger.Error("Error sending funds",
				slog.String("to", to.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Succeeded++
		d.logger.Info("Transaction confirmed", slog.String("tx", hash.Hex()))
	}

	d.logger.Info("Distribution complete",
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}
