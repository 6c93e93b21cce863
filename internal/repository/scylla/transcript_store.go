package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/repository"
)

// Schema is the CQL the transcript store expects. Statements are applied by EnsureSchema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS transcripts_by_session (
		session_id text,
		seq int,
		utterance text,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts_by_batch (
		batch_name text,
		bucket timestamp,
		session_id text,
		provider_call_id text,
		status text,
		utterances int,
		recorded_at timestamp,
		PRIMARY KEY ((batch_name, bucket), session_id)
	)`,
}

// TranscriptStore persists call transcripts in Scylla.
type TranscriptStore struct {
	session *gocql.Session
}

// NewTranscriptStore creates a new transcript store.
func NewTranscriptStore(session *gocql.Session) *TranscriptStore {
	return &TranscriptStore{session: session}
}

var _ repository.TranscriptStore = (*TranscriptStore)(nil)

// EnsureSchema creates the tables in the session's keyspace.
func (s *TranscriptStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("transcript store: ensure schema: %w", err)
		}
	}
	return nil
}

// Append writes every utterance of a session plus a per-batch index row in one unlogged batch.
func (s *TranscriptStore) Append(ctx context.Context, entry repository.TranscriptEntry) error {
	recorded := entry.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	id := entry.SessionID.String()

	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for i, utterance := range entry.Utterances {
		batch.Query(`INSERT INTO transcripts_by_session (session_id, seq, utterance) VALUES (?, ?, ?)`,
			id, i, utterance)
	}
	batch.Query(`INSERT INTO transcripts_by_batch (batch_name, bucket, session_id, provider_call_id, status, utterances, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Batch, bucketDate(recorded), id, entry.ProviderCallID, entry.Status, len(entry.Utterances), recorded)

	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("transcript store: append %s: %w", id, err)
	}
	return nil
}

// List returns the utterances of a session in the order they were heard.
func (s *TranscriptStore) List(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	iter := s.session.Query(`SELECT utterance FROM transcripts_by_session WHERE session_id = ?`,
		sessionID.String()).WithContext(ctx).Iter()

	var (
		utterance string
		out       []string
	)
	for iter.Scan(&utterance) {
		out = append(out, utterance)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func bucketDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
