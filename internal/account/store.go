package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/testnetbot/internal/apperr"
)

// Entry is one wallet as persisted in the wallet file.
type Entry struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// ErrNoWallets is returned by Store.Require when the wallet file is missing or empty.
var ErrNoWallets = errors.New("no wallets found, create wallets first")

// Store reads and writes the JSON wallet file. It never removes single
// entries: the file is only replaced wholesale by Create.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the wallet file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted entries in file order. A missing file yields
// no entries and no error.
func (s *Store) Load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No wallets found", slog.String("path", s.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallets: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return entries, nil
}

// Accounts loads the entries and decodes their keys.
func (s *Store) Accounts() ([]*Account, error) {
	entries, err := s.Load()
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(entries))
	for i, e := range entries {
		acc, err := NewAccountFromHex(e.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		if e.Address != "" && common.HexToAddress(e.Address) != acc.Address {
			return nil, fmt.Errorf("wallet %d: address %s does not match private key", i, e.Address)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Require loads accounts and fails with a fatal startup error when there are
// fewer than minCount of them.
func (s *Store) Require(minCount int) ([]*Account, error) {
	accounts, err := s.Accounts()
	if err != nil {
		return nil, apperr.Fatal("load wallets", err)
	}
	if len(accounts) == 0 {
		return nil, apperr.Fatal("load wallets", ErrNoWallets)
	}
	if len(accounts) < minCount {
		return nil, apperr.Fatal("load wallets", fmt.Errorf("at least %d wallets required, found %d", minCount, len(accounts)))
	}
	return accounts, nil
}

// Create generates count fresh wallets and overwrites the wallet file with them.
func (s *Store) Create(count int) ([]Entry, error) {
	if count < 1 {
		return nil, fmt.Errorf("wallet count must be >= 1, got %d", count)
	}

	accounts, err := generate(count, s.logger)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(accounts))
	for i, acc := range accounts {
		entries[i] = acc.Entry()
	}

	if err := s.write(entries); err != nil {
		return nil, err
	}
	s.logger.Info("Created wallets",
		slog.Int("count", count),
		slog.String("path", s.path),
	)
	return entries, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *Store) write(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create wallet directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wallets-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write wallets: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod wallets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close wallets: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace wallets: %w", err)
	}
	return nil
}

// generate creates count random accounts using parallel key generation.
func generate(count int, logger *slog.Logger) ([]*Account, error) {
	accounts := make([]*Account, count)

	numWorkers := min(runtime.GOMAXPROCS(0), 16)
	logger.Debug("Generating wallets",
		slog.Int("count", count),
		slog.Int("workers", numWorkers),
	)

	var wg sync.WaitGroup
	errChan := make(chan error, numWorkers)
	workSize := (count + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * workSize
		end := min(start+workSize, count)
		if start >= count {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				acc, err := Generate()
				if err != nil {
					select {
					case errChan <- fmt.Errorf("key %d: %w", i, err):
					default:
					}
					return
				}
				accounts[i] = acc
			}
		}(start, end)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	return accounts, nil
}
