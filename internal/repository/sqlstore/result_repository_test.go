package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/config"
	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/infra/db"
	"github.com/acme/ivr-balance-checker/internal/repository"
)

func newTestRepo(t *testing.T) *ResultRepository {
	t.Helper()
	ctx := context.Background()
	store, err := db.NewSQLite(ctx, config.SQLiteConfig{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	repo := NewResultRepository(store.DB())
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func record(batch string, status domain.Status, finished time.Time) repository.ResultRecord {
	return repository.NewResultRecord(batch, domain.Result{
		SessionID:  uuid.New(),
		Identifier: "4111111111111111",
		Secret:     "12345",
		Status:     status,
		Balance:    "Current Balance: $10",
		Transcript: []string{"hello", "your balance is $10"},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	})
}

func TestSaveAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := record("nightly", domain.StatusCompleted, base)
	second := record("nightly", domain.StatusFailed, base.Add(time.Minute))
	other := record("adhoc", domain.StatusCompleted, base)

	for _, r := range []repository.ResultRecord{second, first, other} {
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := repo.ListByBatch(ctx, "nightly", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].SessionID != first.SessionID || got[1].SessionID != second.SessionID {
		t.Fatalf("unexpected order: %v, %v", got[0].SessionID, got[1].SessionID)
	}
	if got[0].MaskedCard != "****1111" {
		t.Fatalf("expected masked card, got %q", got[0].MaskedCard)
	}
	if got[0].Transcript != "hello | your balance is $10" {
		t.Fatalf("unexpected transcript %q", got[0].Transcript)
	}
}

func TestSaveUpdatesStatsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := record("nightly", domain.StatusCompleted, now)
	for _, r := range []repository.ResultRecord{
		done,
		done, // duplicate is ignored
		record("nightly", domain.StatusFailed, now),
		record("nightly", domain.StatusError, now),
	} {
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	stats, err := repo.Stats(ctx, "nightly")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := repository.BatchStats{Batch: "nightly", Total: 3, Completed: 1, Failed: 1, Errored: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestStatsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Stats(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
