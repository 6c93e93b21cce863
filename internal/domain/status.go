package domain

import "strings"

// Status enumerates lifecycle stages of one outbound call attempt.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusDialing    Status = "DIALING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"

	// StatusError is only ever written to result records, for units that crashed
	// before the session could resolve itself.
	StatusError Status = "ERROR"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDialing:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Provider call status values delivered on the webhook.
const (
	ProviderStatusInProgress = "in-progress"
	ProviderStatusCompleted  = "completed"
	ProviderStatusFailed     = "failed"
	ProviderStatusBusy       = "busy"
	ProviderStatusNoAnswer   = "no-answer"
)

// NormalizeProviderStatus lower-cases and trims a provider status value.
func NormalizeProviderStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsTerminalProviderStatus reports whether the provider status ends the call.
func IsTerminalProviderStatus(status string) bool {
	switch NormalizeProviderStatus(status) {
	case ProviderStatusCompleted, ProviderStatusFailed, ProviderStatusBusy, ProviderStatusNoAnswer:
		return true
	default:
		return false
	}
}
