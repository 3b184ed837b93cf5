package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenABI covers the calls made on the bridgeable test tokens.
const TokenABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// BridgeABI covers the bridge contract entry point.
const BridgeABI = `[
	{"type":"function","name":"bridgeAsset","stateMutability":"payable","inputs":[
		{"name":"destinationNetwork","type":"uint32"},
		{"name":"destinationAddress","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"token","type":"address"},
		{"name":"forceUpdateGlobalExitRoot","type":"bool"},
		{"name":"permitData","type":"bytes"}
	],"outputs":[]}
]`

// NFTABI covers the NFT mint flow.
const NFTABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	tokenABI  = mustParseABI(TokenABI)
	bridgeABI = mustParseABI(BridgeABI)
	nftABI    = mustParseABI(NFTABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
