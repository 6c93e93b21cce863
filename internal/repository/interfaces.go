package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/domain"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
)

// ResultRepository persists finished call results and per-batch counters.
type ResultRepository interface {
	Migrate(ctx context.Context) error
	Save(ctx context.Context, record ResultRecord) error
	ListByBatch(ctx context.Context, batch string, limit int) ([]ResultRecord, error)
	Stats(ctx context.Context, batch string) (BatchStats, error)
}

// TranscriptStore keeps the utterances heard on each call.
type TranscriptStore interface {
	Append(ctx context.Context, entry TranscriptEntry) error
	List(ctx context.Context, sessionID uuid.UUID) ([]string, error)
}

// ResultRecord is the storage representation of a result. The card number is stored masked and the
// secret is never stored.
type ResultRecord struct {
	SessionID      uuid.UUID `db:"session_id"`
	Batch          string    `db:"batch_name"`
	MaskedCard     string    `db:"masked_card"`
	ProviderCallID string    `db:"provider_call_id"`
	Status         string    `db:"status"`
	Balance        string    `db:"balance"`
	FailureReason  string    `db:"failure_reason"`
	Transcript     string    `db:"transcript"`
	StartedAt      time.Time `db:"started_at"`
	FinishedAt     time.Time `db:"finished_at"`
}

// NewResultRecord builds the storage row for res.
func NewResultRecord(batch string, res domain.Result) ResultRecord {
	return ResultRecord{
		SessionID:      res.SessionID,
		Batch:          batch,
		MaskedCard:     res.MaskedIdentifier(),
		ProviderCallID: res.ProviderCallID,
		Status:         string(res.Status),
		Balance:        res.Balance,
		FailureReason:  res.FailureReason,
		Transcript:     res.TranscriptText(),
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
	}
}

// BatchStats are running counters for one batch.
type BatchStats struct {
	Batch     string `db:"batch_name"`
	Total     int64  `db:"total_calls"`
	Completed int64  `db:"completed_calls"`
	Failed    int64  `db:"failed_calls"`
	Errored   int64  `db:"errored_calls"`
}

// TranscriptEntry is one session's transcript as written to the transcript store.
type TranscriptEntry struct {
	SessionID      uuid.UUID
	Batch          string
	ProviderCallID string
	Status         string
	Utterances     []string
	RecordedAt     time.Time
}
