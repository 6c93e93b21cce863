package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/repository"
)

// ResultRepository persists results through sqlx. Queries are written with '?' placeholders and rebound
// for the driver, so the same code serves postgres (pgx) and sqlite.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository builds the repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

var _ repository.ResultRepository = (*ResultRepository)(nil)

func schema(driver string) []string {
	ts, id := "TIMESTAMP", "TEXT"
	if driver == "pgx" || driver == "postgres" {
		ts, id = "TIMESTAMPTZ", "UUID"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS call_results (
			session_id %s PRIMARY KEY,
			batch_name TEXT NOT NULL,
			masked_card TEXT NOT NULL,
			provider_call_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			balance TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			started_at %s NOT NULL,
			finished_at %s NOT NULL
		)`, id, ts, ts),
		`CREATE INDEX IF NOT EXISTS call_results_batch_idx ON call_results (batch_name, finished_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_stats (
			batch_name TEXT PRIMARY KEY,
			total_calls BIGINT NOT NULL DEFAULT 0,
			completed_calls BIGINT NOT NULL DEFAULT 0,
			failed_calls BIGINT NOT NULL DEFAULT 0,
			errored_calls BIGINT NOT NULL DEFAULT 0,
			updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, ts),
	}
}

// Migrate creates the tables if they do not exist.
func (r *ResultRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema(r.db.DriverName()) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("results: migrate: %w", err)
		}
	}
	return nil
}

// Save inserts the result and bumps the batch counters in one transaction. Saving the same session twice
// is a no-op.
func (r *ResultRepository) Save(ctx context.Context, record repository.ResultRecord) error {
	insert := r.db.Rebind(`INSERT INTO call_results (
		session_id, batch_name, masked_card, provider_call_id, status, balance, failure_reason, transcript, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id) DO NOTHING`)

	upsert := r.db.Rebind(`INSERT INTO batch_stats (batch_name, total_calls, completed_calls, failed_calls, errored_calls)
	VALUES (?, 1, ?, ?, ?)
	ON CONFLICT (batch_name) DO UPDATE SET
		total_calls = batch_stats.total_calls + excluded.total_calls,
		completed_calls = batch_stats.completed_calls + excluded.completed_calls,
		failed_calls = batch_stats.failed_calls + excluded.failed_calls,
		errored_calls = batch_stats.errored_calls + excluded.errored_calls,
		updated_at = CURRENT_TIMESTAMP`)

	completed, failed, errored := counters(domain.Status(record.Status))

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, insert,
			record.SessionID, record.Batch, record.MaskedCard, record.ProviderCallID, record.Status,
			record.Balance, record.FailureReason, record.Transcript, record.StartedAt.UTC(), record.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("results: insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, upsert, record.Batch, completed, failed, errored); err != nil {
			return fmt.Errorf("results: apply stats: %w", err)
		}
		return nil
	})
}

// ListByBatch returns up to limit results of a batch in finishing order.
func (r *ResultRepository) ListByBatch(ctx context.Context, batch string, limit int) ([]repository.ResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []repository.ResultRecord
	query := r.db.Rebind(`SELECT session_id, batch_name, masked_card, provider_call_id, status, balance, failure_reason,
		transcript, started_at, finished_at
		FROM call_results
		WHERE batch_name = ?
		ORDER BY finished_at ASC, session_id ASC
		LIMIT ?`)
	if err := r.db.SelectContext(ctx, &records, query, batch, limit); err != nil {
		return nil, fmt.Errorf("results: list: %w", err)
	}
	return records, nil
}

// Stats returns the counters for a batch.
func (r *ResultRepository) Stats(ctx context.Context, batch string) (repository.BatchStats, error) {
	var stats repository.BatchStats
	query := r.db.Rebind(`SELECT batch_name, total_calls, completed_calls, failed_calls, errored_calls
		FROM batch_stats WHERE batch_name = ?`)
	if err := r.db.GetContext(ctx, &stats, query, batch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, repository.ErrNotFound
		}
		return stats, fmt.Errorf("results: stats: %w", err)
	}
	return stats, nil
}

func counters(status domain.Status) (completed, failed, errored int) {
	switch status {
	case domain.StatusCompleted:
		return 1, 0, 0
	case domain.StatusError:
		return 0, 0, 1
	default:
		return 0, 1, 0
	}
}
