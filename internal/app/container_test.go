package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acme/ivr-balance-checker/internal/config"
	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/repository/sqlstore"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	dir := t.TempDir()
	cfg.App.Env = "test"
	cfg.App.LogLevel = "error"
	cfg.Telephony.Provider = config.ProviderMock
	cfg.Orchestrator.Concurrency = 2
	cfg.Orchestrator.CallTimeout = 10 * time.Second
	cfg.Orchestrator.BatchName = "dry-run"
	cfg.Output.ResultsFile = filepath.Join(dir, "results.csv")
	cfg.Store.Driver = config.DriverSQLite
	cfg.SQLite.Path = filepath.Join(dir, "results.db")
	return cfg
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Orchestrator.Concurrency = 0
	if _, err := Build(context.Background(), cfg); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDryRunBatch(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig(t)

	c, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	orch, err := c.Orchestrator(ctx)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	items := []domain.WorkItem{
		{Identifier: "4111111111111111", Secret: "12345"},
		{Identifier: "4222222222222222", Secret: "54321"},
	}
	summary := orch.Run(ctx, items)
	if summary.Completed != 2 {
		t.Fatalf("expected both calls completed, got %+v", summary)
	}

	stats, err := sqlstore.NewResultRepository(c.SQLite.DB()).Stats(ctx, "dry-run")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.Output.ResultsFile)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "Current Balance: $523.10") || !strings.Contains(lines[1], "COMPLETED") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}

func TestStoreFailureKeepsPreviousResultsFile(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig(t)
	previous := []byte("CardNumber,ZipCode\nearlier,run\n")
	if err := os.WriteFile(cfg.Output.ResultsFile, previous, 0o644); err != nil {
		t.Fatalf("seed results: %v", err)
	}

	c, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = c.Close() }()

	// a closed database makes the result store migration fail
	if err := c.SQLite.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
	if _, err := c.Orchestrator(ctx); err == nil {
		t.Fatalf("expected bootstrap error")
	}

	data, err := os.ReadFile(cfg.Output.ResultsFile)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if string(data) != string(previous) {
		t.Fatalf("results file was modified: %q", data)
	}
}
