package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// ResultMessage is the event published for every finished call. It never carries the secret
// and the card number is masked.
type ResultMessage struct {
	SessionID      uuid.UUID `json:"session_id"`
	Batch          string    `json:"batch"`
	Card           string    `json:"card"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	Status         string    `json:"status"`
	Balance        string    `json:"balance,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Transcript     []string  `json:"transcript,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewResultMessage builds the event for res.
func NewResultMessage(batch string, res domain.Result) ResultMessage {
	occurred := res.FinishedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return ResultMessage{
		SessionID:      res.SessionID,
		Batch:          batch,
		Card:           res.MaskedIdentifier(),
		ProviderCallID: res.ProviderCallID,
		Status:         string(res.Status),
		Balance:        res.Balance,
		FailureReason:  res.FailureReason,
		Transcript:     res.Transcript,
		DurationMs:     res.Duration().Milliseconds(),
		OccurredAt:     occurred,
	}
}
