// Package chain signs and submits transactions for one account and waits for
// their confirmation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gateway-fm/testnetbot/internal/account"
	"github.com/gateway-fm/testnetbot/internal/apperr"
)

// NativeTransferGas is the gas limit of a plain value transfer.
const NativeTransferGas = 21000

// DefaultConfirmTimeout bounds the wait for a transaction receipt.
const DefaultConfirmTimeout = 3 * time.Minute

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is what the client needs from a node connection. Both
// *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Observer receives the outcome of every submitted transaction.
type Observer interface {
	TransactionFinished(method string, success bool, confirm time.Duration)
}

// Config configures clients built by a Factory.
type Config struct {
	ConfirmTimeout time.Duration
	Observer       Observer
	Logger         *slog.Logger
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, apperr.Transient("dial "+url, err)
	}
	return c, nil
}

// Factory creates clients that share one backend and chain ID.
type Factory struct {
	backend Backend
	chainID *big.Int
	cfg     Config
}

// NewFactory fetches the chain ID once and returns a factory for per-account clients.
func NewFactory(ctx context.Context, backend Backend, cfg Config) (*Factory, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, apperr.Transient("eth_chainId", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	return &Factory{backend: backend, chainID: chainID, cfg: cfg}, nil
}

// ChainID returns the connected chain's ID.
func (f *Factory) ChainID() *big.Int {
	return new(big.Int).Set(f.chainID)
}

// For returns a client signing as acct.
func (f *Factory) For(acct *account.Account) *Client {
	return &Client{
		backend:        f.backend,
		account:        acct,
		chainID:        f.chainID,
		confirmTimeout: f.cfg.ConfirmTimeout,
		observer:       f.cfg.Observer,
		logger:         f.cfg.Logger.With(slog.String("wallet", acct.Address.Hex())),
	}
}

// Client issues reads and signed transactions for one account.
type Client struct {
	backend        Backend
	account        *account.Account
	chainID        *big.Int
	confirmTimeout time.Duration
	observer       Observer
	logger         *slog.Logger
}

// Address returns the signing address.
func (c *Client) Address() common.Address {
	return c.account.Address
}

// Balance returns the account's native balance.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.account.Address, nil)
	if err != nil {
		return nil, apperr.Transient("eth_getBalance", err)
	}
	return bal, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, contractABI abi.ABI, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	bound := bind.NewBoundContract(contract, contractABI, c.backend, c.backend, c.backend)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx, From: c.account.Address}, &out, method, args...); err != nil {
		return nil, apperr.Transient("call "+method, err)
	}
	return out, nil
}

// Transact sends a signed contract call and waits for it to be mined.
// gasLimit 0 lets the node estimate.
func (c *Client) Transact(ctx context.Context, contractABI abi.ABI, contract common.Address, gasLimit uint64, method string, args ...interface{}) (*types.Receipt, error) {
	opts, err := c.transactOpts(ctx, gasLimit, nil)
	if err != nil {
		return nil, err
	}
	bound := bind.NewBoundContract(contract, contractABI, c.backend, c.backend, c.backend)
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return nil, apperr.Transient("send "+method, err)
	}
	return c.wait(ctx, method, tx)
}

// Deploy creates a contract and waits for the deployment to be mined.
func (c *Client) Deploy(ctx context.Context, contractABI abi.ABI, bytecode []byte, gasLimit uint64, args ...interface{}) (common.Address, *types.Receipt, error) {
	opts, err := c.transactOpts(ctx, gasLimit, nil)
	if err != nil {
		return common.Address{}, nil, err
	}
	addr, tx, _, err := bind.DeployContract(opts, contractABI, bytecode, c.backend, args...)
	if err != nil {
		return common.Address{}, nil, apperr.Transient("send deploy", err)
	}
	receipt, err := c.wait(ctx, "deploy", tx)
	if err != nil {
		return common.Address{}, nil, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	return addr, receipt, nil
}

// SendNative transfers value wei to to and waits for confirmation.
func (c *Client) SendNative(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64) (*types.Receipt, error) {
	if gasLimit == 0 {
		gasLimit = NativeTransferGas
	}
	opts, err := c.transactOpts(ctx, gasLimit, value)
	if err != nil {
		return nil, err
	}
	tx, err := bind.NewBoundContract(to, abi.ABI{}, c.backend, c.backend, c.backend).Transfer(opts)
	if err != nil {
		return nil, apperr.Transient("send transfer", err)
	}
	return c.wait(ctx, "transfer", tx)
}

func (c *Client) transactOpts(ctx context.Context, gasLimit uint64, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.account.PrivateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit
	opts.Value = value
	return opts, nil
}

// wait blocks until tx is mined or the confirm timeout elapses.
func (c *Client) wait(ctx context.Context, method string, tx *types.Transaction) (*types.Receipt, error) {
	start := time.Now()
	c.logger.Debug("Transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		c.finish(method, false, start)
		return nil, apperr.Transient("wait "+method, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.finish(method, false, start)
		return receipt, fmt.Errorf("%s tx %s: %w", method, tx.Hash().Hex(), ErrReverted)
	}

	c.finish(method, true, start)
	c.logger.Info("Transaction confirmed",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return receipt, nil
}

func (c *Client) finish(method string, success bool, start time.Time) {
	if c.observer != nil {
		c.observer.TransactionFinished(method, success, time.Since(start))
	}
}
