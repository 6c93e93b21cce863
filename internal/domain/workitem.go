package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkItem is one account to check: a card identifier and the secret the IVR asks for after it.
type WorkItem struct {
	Identifier string
	Secret     string
	// Line is the 1-based input line the item was read from, zero when not file-backed.
	Line int
}

// MaskedIdentifier hides all but the last four characters of the identifier.
func (w WorkItem) MaskedIdentifier() string {
	return Mask(w.Identifier)
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// TranscriptSeparator joins utterances in result records.
const TranscriptSeparator = " | "

// Result is the record handed to result sinks once a unit is finished.
type Result struct {
	SessionID      uuid.UUID
	Identifier     string
	Secret         string
	ProviderCallID string
	Status         Status
	Balance        string
	FailureReason  string
	Transcript     []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// TranscriptText joins the transcript with TranscriptSeparator.
func (r Result) TranscriptText() string {
	return strings.Join(r.Transcript, TranscriptSeparator)
}

// MaskedIdentifier hides all but the last four characters of the identifier.
func (r Result) MaskedIdentifier() string {
	return Mask(r.Identifier)
}

// Duration is the wall time between session creation and resolution.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
