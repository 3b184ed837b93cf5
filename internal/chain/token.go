package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BridgeParams are the arguments of bridgeAsset.
type BridgeParams struct {
	DestinationNetwork        uint32
	DestinationAddress        common.Address
	Amount                    *big.Int
	Token                     common.Address
	ForceUpdateGlobalExitRoot bool
	PermitData                []byte
	GasLimit                  uint64
}

// Mint calls mint(to, amount) on a test token.
func (c *Client) Mint(ctx context.Context, token, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return c.Transact(ctx, tokenABI, token, 0, "mint", to, amount)
}

// Approve calls approve(spender, amount) on a token.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return c.Transact(ctx, tokenABI, token, 0, "approve", spender, amount)
}

// TokenBalance reads balanceOf(owner) on a token.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.CallUint256(ctx, tokenABI, token, "balanceOf", owner)
}

// BridgeAsset calls bridgeAsset on the bridge contract.
func (c *Client) BridgeAsset(ctx context.Context, bridge common.Address, p BridgeParams) (*types.Receipt, error) {
	permit := p.PermitData
	if permit == nil {
		permit = []byte{}
	}
	return c.Transact(ctx, bridgeABI, bridge, p.GasLimit, "bridgeAsset",
		p.DestinationNetwork,
		p.DestinationAddress,
		p.Amount,
		p.Token,
		p.ForceUpdateGlobalExitRoot,
		permit,
	)
}

// MintNFT calls mint(to) on the NFT contract.
func (c *Client) MintNFT(ctx context.Context, nft, to common.Address, gasLimit uint64) (*types.Receipt, error) {
	return c.Transact(ctx, nftABI, nft, gasLimit, "mint", to)
}

// NFTBalance reads balanceOf(owner) on the NFT contract.
func (c *Client) NFTBalance(ctx context.Context, nft, owner common.Address) (*big.Int, error) {
	return c.CallUint256(ctx, nftABI, nft, "balanceOf", owner)
}

// CallUint256 performs a read call that returns a single uint256.
func (c *Client) CallUint256(ctx context.Context, contractABI abi.ABI, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.Call(ctx, contractABI, contract, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	return v, nil
}
