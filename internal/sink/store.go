package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/repository"
)

// Store records results in a result repository and, when configured, transcripts in a transcript store.
type Store struct {
	batch       string
	results     repository.ResultRepository
	transcripts repository.TranscriptStore
}

// NewStore builds a store sink. Either backend may be nil.
func NewStore(batch string, results repository.ResultRepository, transcripts repository.TranscriptStore) *Store {
	return &Store{batch: batch, results: results, transcripts: transcripts}
}

func (s *Store) Record(ctx context.Context, res domain.Result) error {
	var errs []error
	if s.results != nil {
		if err := s.results.Save(ctx, repository.NewResultRecord(s.batch, res)); err != nil {
			errs = append(errs, fmt.Errorf("store sink: %w", err))
		}
	}
	if s.transcripts != nil && len(res.Transcript) > 0 {
		entry := repository.TranscriptEntry{
			SessionID:      res.SessionID,
			Batch:          s.batch,
			ProviderCallID: res.ProviderCallID,
			Status:         string(res.Status),
			Utterances:     res.Transcript,
			RecordedAt:     res.FinishedAt,
		}
		if err := s.transcripts.Append(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("store sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the backends are owned by the caller.
func (s *Store) Close() error { return nil }
