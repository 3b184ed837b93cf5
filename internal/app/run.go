package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

// Run is one command execution.
type Run struct {
	ID        string
	Command   types.Command
	StartedAt time.Time

	svc       *Service
	succeeded atomic.Int64
	failed    atomic.Int64
}

// item counts one settled unit of work (a wallet, a proxy).
func (r *Run) item(err error) {
	if err != nil {
		r.failed.Add(1)
	} else {
		r.succeeded.Add(1)
	}
}

// emit fills in the run fields of e, stores it and fans it out.
func (r *Run) emit(e types.Event) {
	e.RunID = r.ID
	e.Command = r.Command
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s := r.svc
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.ledger.InsertEvent(ctx, &e); err != nil {
			s.logger.Warn("Failed to record event", slog.String("run", r.ID), slog.String("error", err.Error()))
		}
		cancel()
	}

	s.mu.Lock()
	sinks := append([]EventSink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.Publish(e)
	}
}

// step emits the outcome of one step for account.
func (r *Run) step(account common.Address, step string, tx common.Hash, err error) {
	e := types.Event{Step: step, Status: types.EventSucceeded}
	if account != (common.Address{}) {
		e.Account = account.Hex()
	}
	if tx != (common.Hash{}) {
		e.TxHash = tx.Hex()
	}
	if err != nil {
		e.Status = types.EventFailed
		e.Error = err.Error()
		var ae *apperr.Error
		if errors.As(err, &ae) {
			e.Attempts = ae.Attempts
		}
	}
	r.emit(e)
}

func (r *Run) summary(err error) types.RunSummary {
	now := time.Now()
	s := types.RunSummary{
		ID:          r.ID,
		Command:     r.Command,
		Status:      types.RunStatusCompleted,
		StartedAt:   r.StartedAt,
		CompletedAt: &now,
		Succeeded:   int(r.succeeded.Load()),
		Failed:      int(r.failed.Load()),
	}
	if err != nil {
		s.Status = types.RunStatusFailed
		s.Error = err.Error()
	} else if s.Failed > 0 {
		s.Error = fmt.Sprintf("%d of %d items failed", s.Failed, s.Failed+s.Succeeded)
	}
	return s
}
