package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := createTestStorage(t)
	if storage.db == nil {
		t.Fatal("expected db to be non-nil")
	}
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "data", "bot.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	defer storage.Close()
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestNewSQLiteStorage_PathUnderFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wallets.json")
	if err := os.WriteFile(file, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSQLiteStorage(filepath.Join(file, "x", "bot.db")); err == nil {
		t.Error("expected error for a path below a regular file")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := &types.RunSummary{
		ID:        "run-123",
		Command:   types.CommandClaimFaucet,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-123")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.ID != run.ID {
		t.Errorf("ID = %q, want %q", got.ID, run.ID)
	}
	if got.Command != run.Command {
		t.Errorf("Command = %q, want %q", got.Command, run.Command)
	}
	if got.Status != types.RunStatusRunning {
		t.Errorf("Status = %q", got.Status)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
	if len(got.Events) != 0 {
		t.Errorf("Events = %d, want 0", len(got.Events))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)

	got, err := storage.GetRun(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for nonexistent run, got %+v", got)
	}
}

func TestCompleteRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := &types.RunSummary{ID: "run-done", Command: types.CommandDeploy, StartedAt: time.Now()}
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	run.Status = types.RunStatusFailed
	run.Succeeded = 3
	run.Failed = 2
	run.Error = "2 of 5 accounts failed"
	if err := storage.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-done")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != types.RunStatusFailed {
		t.Errorf("Status = %q", got.Status)
	}
	if got.Succeeded != 3 || got.Failed != 2 {
		t.Errorf("counts = %d/%d, want 3/2", got.Succeeded, got.Failed)
	}
	if got.Error != run.Error {
		t.Errorf("Error = %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestCompleteRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)
	err := storage.CompleteRun(context.Background(), &types.RunSummary{ID: "missing", Status: types.RunStatusCompleted})
	if err == nil {
		t.Error("expected error for missing run")
	}
}

func TestListRuns(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		run := &types.RunSummary{
			ID:        fmt.Sprintf("run-%d", i),
			Command:   types.CommandMintNFT,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	page, err := storage.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(page.Runs))
	}
	if page.Runs[0].ID != "run-4" || page.Runs[1].ID != "run-3" {
		t.Errorf("order = %s, %s; want newest first", page.Runs[0].ID, page.Runs[1].ID)
	}

	page, err = storage.ListRuns(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].ID != "run-0" {
		t.Errorf("last page = %+v", page.Runs)
	}
}

func TestListRuns_Empty(t *testing.T) {
	storage := createTestStorage(t)
	page, err := storage.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if page.Runs == nil || len(page.Runs) != 0 || page.Total != 0 {
		t.Errorf("page = %+v, want empty non-nil slice", page)
	}
}

func TestInsertAndListEvents(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	if err := storage.CreateRun(ctx, &types.RunSummary{ID: "run-ev", Command: types.CommandDistribute, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	events := []types.Event{
		{RunID: "run-ev", Command: types.CommandDistribute, Account: "0xabc", Step: "mint", Status: types.EventSucceeded, TxHash: "0x01"},
		{RunID: "run-ev", Command: types.CommandDistribute, Account: "0xabc", Step: "approve", Status: types.EventFailed, Attempts: 3, Error: "nonce too low"},
		{RunID: "run-ev", Command: types.CommandDistribute, Step: "summary", Status: types.EventSucceeded, Detail: "1 of 2 accounts"},
	}
	for i := range events {
		if err := storage.InsertEvent(ctx, &events[i]); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	got, err := storage.ListEvents(ctx, "run-ev")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(got))
	}
	if got[0].Step != "mint" || got[0].TxHash != "0x01" || got[0].Account != "0xabc" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Attempts != 3 || got[1].Error != "nonce too low" || got[1].Status != types.EventFailed {
		t.Errorf("event 1 = %+v", got[1])
	}
	if got[2].Account != "" || got[2].Detail != "1 of 2 accounts" {
		t.Errorf("event 2 = %+v", got[2])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stored")
	}

	detail, err := storage.GetRun(ctx, "run-ev")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if len(detail.Events) != 3 {
		t.Errorf("GetRun events = %d, want 3", len(detail.Events))
	}
}

func TestInsertEvent_UnknownRun(t *testing.T) {
	storage := createTestStorage(t)
	err := storage.InsertEvent(context.Background(), &types.Event{RunID: "nope", Command: types.CommandDeploy, Step: "deploy", Status: types.EventStarted})
	if err == nil {
		t.Error("expected foreign key error for unknown run")
	}
}
