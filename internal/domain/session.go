package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/extraction"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// FailureTimeout is the failure reason recorded when no terminal event arrives in time.
const FailureTimeout = "Timeout"

// Extractor turns one transcribed utterance into a balance match.
type Extractor interface {
	Match(text string) extraction.Match
}

// ProgressOutcome tells the webhook layer which script an in-progress event calls for.
type ProgressOutcome int

const (
	// ProgressIgnored means the session is already terminal.
	ProgressIgnored ProgressOutcome = iota
	// ProgressNavigate means the navigation script has not been sent yet and must be sent now.
	ProgressNavigate
	// ProgressListen means navigation already happened; keep listening.
	ProgressListen
)

func (o ProgressOutcome) String() string {
	switch o {
	case ProgressNavigate:
		return "navigate"
	case ProgressListen:
		return "listen"
	default:
		return "ignored"
	}
}

// Session is the state of one outbound call attempt, from creation to terminal resolution.
// It is safe for concurrent use by the orchestrator unit that owns it and by webhook handlers.
type Session struct {
	ID        uuid.UUID
	Item      WorkItem
	CreatedAt time.Time

	mu             sync.Mutex
	providerCallID string
	status         Status
	navigationSent bool
	transcript     []string
	balance        string
	provisional    bool
	failureReason  string
	history        []Status
	finishedAt     time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a queued session for item.
func NewSession(item WorkItem) *Session {
	return &Session{
		ID:        uuid.New(),
		Item:      item,
		CreatedAt: time.Now().UTC(),
		status:    StatusQueued,
		history:   []Status{StatusQueued},
		done:      make(chan struct{}),
	}
}

// MarkDialing records the provider call id once the provider accepted the call.
func (s *Session) MarkDialing(providerCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusQueued {
		return fmt.Errorf("session %s: mark dialing from %s: %w", s.ID, s.status, apperrors.ErrInvalidTransition)
	}
	s.providerCallID = providerCallID
	return s.transitionLocked(StatusDialing)
}

// OnProgressEvent handles an in-progress provider event. Only the first call returns ProgressNavigate.
func (s *Session) OnProgressEvent() ProgressOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return ProgressIgnored
	}
	if s.status != StatusInProgress {
		_ = s.transitionLocked(StatusInProgress)
	}
	if s.navigationSent {
		return ProgressListen
	}
	s.navigationSent = true
	return ProgressNavigate
}

// OnSpeechResult appends the utterance to the transcript and runs the extractor over it.
// It returns true when the utterance completed the session.
func (s *Session) OnSpeechResult(text string, extractor Extractor) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.transcript = append(s.transcript, text)
	if extractor == nil {
		return false
	}

	match := extractor.Match(text)
	switch match.Kind {
	case extraction.KindDefinite:
		s.balance = match.Value
		s.provisional = false
		if err := s.transitionLocked(StatusCompleted); err != nil {
			return false
		}
		s.resolveLocked()
		return true
	case extraction.KindManualReview:
		// provisional; a later definite match replaces it
		s.balance = match.Value
		s.provisional = true
	}
	return false
}

// OnTerminalProviderStatus fails the session with the provider status as reason unless it is already terminal.
// It returns true when the session changed.
func (s *Session) OnTerminalProviderStatus(status string) bool {
	status = NormalizeProviderStatus(status)
	if !IsTerminalProviderStatus(status) {
		return false
	}
	return s.fail(status)
}

// ForceTimeout fails the session with FailureTimeout unless it is already terminal.
func (s *Session) ForceTimeout() bool {
	return s.fail(FailureTimeout)
}

// FailInitiation fails a session whose outbound call request was rejected.
func (s *Session) FailInitiation(err error) bool {
	reason := "API Error"
	if err != nil {
		reason = "API Error: " + err.Error()
	}
	return s.fail(reason)
}

// Abort fails the session with an arbitrary reason, used when the batch is cancelled.
func (s *Session) Abort(reason string) bool {
	return s.fail(reason)
}

func (s *Session) fail(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	if err := s.transitionLocked(StatusFailed); err != nil {
		return false
	}
	s.failureReason = reason
	s.resolveLocked()
	return true
}

func (s *Session) transitionLocked(next Status) error {
	if next.rank() <= s.status.rank() {
		return fmt.Errorf("session %s: %s -> %s: %w", s.ID, s.status, next, apperrors.ErrInvalidTransition)
	}
	s.status = next
	s.history = append(s.history, next)
	return nil
}

func (s *Session) resolveLocked() {
	s.finishedAt = time.Now().UTC()
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed exactly once, when the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ProviderCallID returns the provider call id, empty until MarkDialing.
func (s *Session) ProviderCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerCallID
}

func (s *Session) NavigationSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigationSent
}

func (s *Session) FailureReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureReason
}

// Balance returns the extracted value and whether it is only a manual-review placeholder.
func (s *Session) Balance() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, s.provisional
}

// Transcript returns a copy of the utterances received so far.
func (s *Session) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transcript...)
}

// History returns every status the session has held, in order.
func (s *Session) History() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.history...)
}

// Result snapshots the session into a sink record.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		SessionID:      s.ID,
		Identifier:     s.Item.Identifier,
		Secret:         s.Item.Secret,
		ProviderCallID: s.providerCallID,
		Status:         s.status,
		Balance:        s.balance,
		FailureReason:  s.failureReason,
		Transcript:     append([]string(nil), s.transcript...),
		StartedAt:      s.CreatedAt,
		FinishedAt:     s.finishedAt,
	}
}
