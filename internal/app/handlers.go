package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/testnetbot/internal/account"
	"github.com/gateway-fm/testnetbot/internal/batch"
	"github.com/gateway-fm/testnetbot/internal/bridge"
	"github.com/gateway-fm/testnetbot/internal/contract"
	"github.com/gateway-fm/testnetbot/internal/distribute"
	"github.com/gateway-fm/testnetbot/internal/faucet"
	"github.com/gateway-fm/testnetbot/internal/nft"
	bottypes "github.com/gateway-fm/testnetbot/pkg/types"
)

func (s *Service) createWallets(_ context.Context, r *Run, req bottypes.RunRequest) error {
	entries, err := s.store.Create(req.Count)
	if err != nil {
		return err
	}
	for _, e := range entries {
		r.item(nil)
		r.step(common.HexToAddress(e.Address), "create", common.Hash{}, nil)
	}
	s.logger.Info("Wallets saved", slog.Int("count", len(entries)), slog.String("path", s.store.Path()))
	return nil
}

func (s *Service) claimFaucet(ctx context.Context, r *Run, _ bottypes.RunRequest) error {
	accounts, err := s.store.Require(1)
	if err != nil {
		return err
	}
	addresses := make([]string, len(accounts))
	for i, a := range accounts {
		addresses[i] = a.Address.Hex()
	}
	if s.proxies.Len() == 0 {
		s.logger.Warn("No proxy available, claiming directly")
	}

	var observer faucet.Observer
	if s.metrics != nil {
		observer = s.metrics
	}
	client := faucet.NewClient(faucet.Config{
		Endpoint:      s.cfg.FaucetURL,
		Timeout:       s.cfg.FaucetTimeout,
		RatePerSecond: s.cfg.FaucetRate,
		BatchSize:     s.cfg.BatchSize,
	}, s.proxies, s.executor, observer, s.logger)

	_, err = client.ClaimAll(ctx, addresses, func(i int, err error) {
		r.item(err)
		s.batchItem(err)
		r.step(accounts[i].Address, "claim", common.Hash{}, err)
	})
	return err
}

func (s *Service) deploy(ctx context.Context, r *Run, _ bottypes.RunRequest) error {
	accounts, err := s.store.Require(1)
	if err != nil {
		return err
	}
	f, err := s.factory(ctx, s.cfg.L2RPCURL)
	if err != nil {
		return err
	}

	cfg := contract.DefaultConfig(s.rnd)
	cfg.Pause = s.cfg.DeployPause
	deployer := contract.NewDeployer(s.compiler, cfg, s.rnd, s.executor, s.logger)
	deployer.SetSleep(s.sleep)

	ops := make([]contract.DeployOps, len(accounts))
	for i, a := range accounts {
		ops[i] = f.For(a)
	}
	results, err := deployer.DeployAll(ctx, ops, func(wallet common.Address, step string, tx common.Hash, err error) {
		r.step(wallet, step, tx, err)
	})
	for _, res := range results {
		if res.Contract == (common.Address{}) {
			r.item(errors.New("deploy failed"))
			continue
		}
		r.item(nil)
		r.emit(bottypes.Event{
			Account: res.Wallet.Hex(),
			Step:    "summary",
			Status:  bottypes.EventSucceeded,
			Detail: fmt.Sprintf("contract %s, %d transfers, %d failed",
				res.Contract.Hex(), res.Transfers, res.TransferFailures),
		})
	}
	return err
}

// distribute optionally funds every wallet from the first, then bridges
// the test tokens for every wallet in batches.
func (s *Service) distribute(ctx context.Context, r *Run, req bottypes.RunRequest) error {
	need := 1
	if req.Amount != "" {
		need = 2
	}
	accounts, err := s.store.Require(need)
	if err != nil {
		return err
	}
	f, err := s.factory(ctx, s.cfg.L1RPCURL)
	if err != nil {
		return err
	}

	if req.Amount != "" {
		recipients := make([]common.Address, 0, len(accounts)-1)
		for _, a := range accounts[1:] {
			recipients = append(recipients, a.Address)
		}
		_, err := distribute.New(s.logger).Distribute(ctx, f.For(accounts[0]), recipients, req.Amount,
			func(to common.Address, tx common.Hash, err error) {
				r.step(to, "fund", tx, err)
			})
		if err != nil {
			return err
		}
	}

	cfg := bridge.DefaultConfig()
	cfg.Tokens = s.cfg.Tokens()
	cfg.Bridge = common.HexToAddress(s.cfg.BridgeAddress)
	cfg.DestinationNetwork = uint32(s.cfg.DestinationNetwork)
	orch := bridge.NewOrchestrator(cfg, s.rnd, s.executor, s.logger)

	_, err = batch.Run(ctx, accounts, s.cfg.BatchSize, func(ctx context.Context, a *account.Account) error {
		s.logger.Info("Starting processing for wallet", slog.String("wallet", a.Address.Hex()))
		results := orch.Run(ctx, f.For(a), func(token bridge.Token, step bridge.Step, receipt *types.Receipt, err error) {
			var tx common.Hash
			if receipt != nil {
				tx = receipt.TxHash
			}
			r.step(a.Address, token.Symbol+" "+string(step), tx, err)
		})
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tokens failed", failed, len(results))
		}
		return nil
	}, batch.Options{
		Logger: s.logger,
		Label:  func(i int) string { return accounts[i].Address.Hex() },
		OnItem: func(_ int, err error) {
			r.item(err)
			s.batchItem(err)
		},
	})
	return err
}

func (s *Service) mintNFT(ctx context.Context, r *Run, _ bottypes.RunRequest) error {
	accounts, err := s.store.Require(1)
	if err != nil {
		return err
	}
	f, err := s.factory(ctx, s.cfg.L2RPCURL)
	if err != nil {
		return err
	}

	ops := make([]nft.MintOps, len(accounts))
	for i, a := range accounts {
		ops[i] = f.For(a)
	}
	minter := nft.NewMinter(common.HexToAddress(s.cfg.NFTAddress), s.logger)
	_, err = minter.MintAll(ctx, ops, func(wallet common.Address, tx common.Hash, err error) {
		r.item(err)
		r.step(wallet, "mint", tx, err)
	})
	return err
}

func (s *Service) testProxies(ctx context.Context, r *Run, _ bottypes.RunRequest) error {
	for _, res := range s.proxies.TestAll(ctx) {
		e := bottypes.Event{Step: "proxy test", Status: bottypes.EventSucceeded, Detail: res.Proxy}
		var err error
		if res.Error != "" {
			err = errors.New(res.Error)
			e.Status = bottypes.EventFailed
			e.Error = res.Error
		} else {
			e.Detail += " -> " + res.IP
		}
		r.item(err)
		r.emit(e)
	}
	return nil
}

func (s *Service) exit(context.Context, *Run, bottypes.RunRequest) error {
	s.logger.Info("Exiting")
	return nil
}

func (s *Service) batchItem(err error) {
	if s.metrics != nil {
		s.metrics.BatchItem(err == nil)
	}
}
