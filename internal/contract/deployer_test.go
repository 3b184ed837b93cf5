package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/internal/chain"
	"github.com/gateway-fm/testnetbot/internal/random"
	"github.com/gateway-fm/testnetbot/internal/retry"
)

const testABI = `[
	{"type":"constructor","inputs":[{"name":"_initialSupply","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"outputs":[{"name":"success","type":"bool"}]}
]`

type staticCompiler struct {
	calls int
	err   error
}

func (s *staticCompiler) Compile(context.Context) (*Artifact, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	parsed, err := abi.JSON(strings.NewReader(testABI))
	if err != nil {
		return nil, err
	}
	return &Artifact{ABI: parsed, Bytecode: []byte{0x60, 0x80}}, nil
}

type transferCall struct {
	to     common.Address
	amount *big.Int
}

type fakeDeployOps struct {
	mu            sync.Mutex
	addr          common.Address
	deployFails   int
	deployCalls   int
	deployGas     uint64
	deployArgs    []interface{}
	transfers     []transferCall
	failTransfers map[int]bool
}

func (f *fakeDeployOps) Address() common.Address { return f.addr }

func (f *fakeDeployOps) Deploy(_ context.Context, _ abi.ABI, _ []byte, gasLimit uint64, args ...interface{}) (common.Address, *types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployCalls++
	f.deployGas = gasLimit
	f.deployArgs = args
	if f.deployCalls <= f.deployFails {
		return common.Address{}, nil, errors.New("replacement transaction underpriced")
	}
	contract := common.HexToAddress("0x00000000000000000000000000000000000c0de0")
	return contract, &types.Receipt{Status: 1, TxHash: common.HexToHash("0x01"), ContractAddress: contract}, nil
}

func (f *fakeDeployOps) Transact(_ context.Context, _ abi.ABI, _ common.Address, _ uint64, method string, args ...interface{}) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method != "transfer" {
		return nil, errors.New("unexpected method " + method)
	}
	idx := len(f.transfers)
	f.transfers = append(f.transfers, transferCall{to: args[0].(common.Address), amount: args[1].(*big.Int)})
	if f.failTransfers[idx] {
		return nil, errors.New("execution reverted: Insufficient balance")
	}
	return &types.Receipt{Status: 1, TxHash: common.BigToHash(big.NewInt(int64(idx + 100)))}, nil
}

func testDeployer(t *testing.T, compiler Compiler, rnd random.Source, sleeps *[]time.Duration) *Deployer {
	t.Helper()
	var mu sync.Mutex
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, d)
		return nil
	}
	d := NewDeployer(compiler, DefaultConfig(rnd), rnd, retry.New(retry.WithSleep(sleep)), nil)
	d.SetSleep(sleep)
	return d
}

func TestDeployRetriesThenTransfers(t *testing.T) {
	var sleeps []time.Duration
	// Values: two retry delays (0 -> 500ms, 2500 -> 3s), transfer count (15 -> 20),
	// then amounts cycling 0 -> 10 and 9990 -> 10000.
	rnd := random.NewSequence(0, 2500, 15, 0, 9990)
	d := testDeployer(t, &staticCompiler{}, rnd, &sleeps)
	ops := &fakeDeployOps{addr: common.HexToAddress("0xaa"), deployFails: 2, failTransfers: map[int]bool{1: true}}

	var steps []string
	res, err := d.Deploy(context.Background(), ops, func(_ common.Address, step string, _ common.Hash, _ error) {
		steps = append(steps, step)
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if ops.deployCalls != 3 {
		t.Errorf("deploy attempts = %d, want 3", ops.deployCalls)
	}
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != 3*time.Second {
		t.Errorf("retry sleeps = %v", sleeps)
	}
	if ops.deployGas != 5_000_000 {
		t.Errorf("deploy gas = %d", ops.deployGas)
	}
	wantSupply := chain.Units(1_000_000, 18)
	if len(ops.deployArgs) != 1 || ops.deployArgs[0].(*big.Int).Cmp(wantSupply) != 0 {
		t.Errorf("deploy args = %v, want [%s]", ops.deployArgs, wantSupply)
	}

	if len(ops.transfers) != 20 {
		t.Fatalf("transfers = %d, want 20", len(ops.transfers))
	}
	if res.Transfers != 19 || res.TransferFailures != 1 {
		t.Errorf("transfers ok=%d failed=%d, want 19/1", res.Transfers, res.TransferFailures)
	}

	min, max := chain.Units(10, 18), chain.Units(10_000, 18)
	seen := map[common.Address]bool{}
	for i, tr := range ops.transfers {
		if tr.amount.Cmp(min) < 0 || tr.amount.Cmp(max) > 0 {
			t.Errorf("transfer %d amount %s out of range", i, tr.amount)
		}
		if seen[tr.to] || tr.to == ops.addr {
			t.Errorf("transfer %d recipient %s reused", i, tr.to.Hex())
		}
		seen[tr.to] = true
	}
	if res.Contract != common.HexToAddress("0x00000000000000000000000000000000000c0de0") {
		t.Errorf("contract = %s", res.Contract.Hex())
	}
	if len(steps) != 21 || steps[0] != "deploy" {
		t.Errorf("reported %d steps, first %v", len(steps), steps[:1])
	}
}

func TestDeployExhausted(t *testing.T) {
	var sleeps []time.Duration
	d := testDeployer(t, &staticCompiler{}, random.NewSequence(100), &sleeps)
	ops := &fakeDeployOps{addr: common.HexToAddress("0xbb"), deployFails: 10}

	_, err := d.Deploy(context.Background(), ops, nil)
	if !apperr.IsKind(err, apperr.KindExhaustedRetries) {
		t.Fatalf("err = %v, want exhausted", err)
	}
	if ops.deployCalls != 3 {
		t.Errorf("deploy attempts = %d, want 3", ops.deployCalls)
	}
	if len(ops.transfers) != 0 {
		t.Errorf("transfers after failed deploy: %d", len(ops.transfers))
	}
	for _, s := range sleeps {
		if s < 500*time.Millisecond || s > 3*time.Second {
			t.Errorf("retry delay %v outside [500ms, 3s]", s)
		}
	}
}

func TestDeployAllSequentialWithPause(t *testing.T) {
	var sleeps []time.Duration
	compiler := NewCachedCompiler(&staticCompiler{})
	d := testDeployer(t, compiler, random.NewSequence(0), &sleeps)

	failing := &fakeDeployOps{addr: common.HexToAddress("0x01"), deployFails: 10}
	ok1 := &fakeDeployOps{addr: common.HexToAddress("0x02")}
	ok2 := &fakeDeployOps{addr: common.HexToAddress("0x03")}

	results, err := d.DeployAll(context.Background(), []DeployOps{failing, ok1, ok2}, nil)
	if err != nil {
		t.Fatalf("DeployAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if ok1.deployCalls != 1 || ok2.deployCalls != 1 {
		t.Errorf("later wallets not deployed: %d %d", ok1.deployCalls, ok2.deployCalls)
	}
	pauses := 0
	for _, s := range sleeps {
		if s == time.Second {
			pauses++
		}
	}
	if pauses != 2 {
		t.Errorf("pauses between wallets = %d, want 2 (sleeps %v)", pauses, sleeps)
	}
}

func TestDeployCompileError(t *testing.T) {
	var sleeps []time.Duration
	d := testDeployer(t, &staticCompiler{err: errors.New("solc not found")}, nil, &sleeps)
	ops := &fakeDeployOps{addr: common.HexToAddress("0xcc")}
	if _, err := d.Deploy(context.Background(), ops, nil); err == nil {
		t.Fatal("expected compile error")
	}
	if ops.deployCalls != 0 {
		t.Error("deployed without an artifact")
	}
}
