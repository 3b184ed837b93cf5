package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/testnetbot/internal/apperr"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := load(nil, envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", cfg.BatchSize)
	}
	if cfg.DeployInterval != 24*time.Hour {
		t.Errorf("DeployInterval = %v", cfg.DeployInterval)
	}
	if cfg.L1RPCURL != "https://sepolia.drpc.org" {
		t.Errorf("L1RPCURL = %q", cfg.L1RPCURL)
	}
	if cfg.NFTAddress != "0x5E2C8EF3035feeC3056864512Aaf8f4dc88CaEe3" {
		t.Errorf("NFTAddress = %q", cfg.NFTAddress)
	}
	if cfg.DestinationNetwork != 1 {
		t.Errorf("DestinationNetwork = %d", cfg.DestinationNetwork)
	}
	tokens := cfg.Tokens()
	if len(tokens) != 3 || tokens[0].Symbol != "USDT" || tokens[2].Symbol != "WBTC" {
		t.Errorf("Tokens = %+v", tokens)
	}
}

func TestPrecedence(t *testing.T) {
	env := envMap(map[string]string{
		"BATCH_SIZE":      "8",
		"L2_RPC_URL":      "http://env:8545",
		"PROXY_URL":       "http://u:p@proxy:8080",
		"DEPLOY_INTERVAL": "1h",
		"FAUCET_RATE":     "2.5",
	})
	cfg, err := load([]string{"-batch-size", "3", "-log-level", "debug"}, env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 3 {
		t.Errorf("flag should win: BatchSize = %d", cfg.BatchSize)
	}
	if cfg.L2RPCURL != "http://env:8545" {
		t.Errorf("L2RPCURL = %q", cfg.L2RPCURL)
	}
	if cfg.ProxyURL != "http://u:p@proxy:8080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if cfg.DeployInterval != time.Hour {
		t.Errorf("DeployInterval = %v", cfg.DeployInterval)
	}
	if cfg.FaucetRate != 2.5 {
		t.Errorf("FaucetRate = %v", cfg.FaucetRate)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad duration env", nil, map[string]string{"DEPLOY_INTERVAL": "daily"}},
		{"bad batch env", nil, map[string]string{"BATCH_SIZE": "five"}},
		{"zero batch size", []string{"-batch-size", "0"}, nil},
		{"unknown flag", []string{"-nope"}, nil},
		{"bad address", nil, map[string]string{"NFT_ADDRESS": "0x123"}},
		{"bad log format", []string{"-log-format", "xml"}, nil},
		{"bad log level", []string{"-log-level", "loud"}, nil},
		{"empty rpc", []string{"-l1", ""}, nil},
		{"zero interval", []string{"-deploy-interval", "0s"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(tt.args, envMap(tt.env))
			if !apperr.IsKind(err, apperr.KindConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
		})
	}
}

func TestBadProxyIsNotAConfigError(t *testing.T) {
	if _, err := load([]string{"-proxy", "::not a url::"}, envMap(nil)); err != nil {
		t.Errorf("bad proxy URL rejected: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WALLET_PATH=from-dotenv.json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("WALLET_PATH")
	})

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WalletPath != "from-dotenv.json" {
		t.Errorf("WalletPath = %q", cfg.WalletPath)
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	cfg := Default()
	cfg.CORSOrigins = "http://a.test, http://b.test,,"
	got := cfg.CORSAllowedOrigins()
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("CORSAllowedOrigins = %v", got)
	}
}
