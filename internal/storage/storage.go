// Package storage persists the run ledger: one row per command execution and
// its per-account step events.
package storage

import (
	"context"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

// Storage defines the persistence interface for runs.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunSummary) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error)

	// Events
	InsertEvent(ctx context.Context, event *types.Event) error
	ListEvents(ctx context.Context, runID string) ([]types.Event, error)

	// Lifecycle
	Close() error
}
