package telephony

import (
	"context"
	"time"
)

// CallRequest describes one outbound call.
type CallRequest struct {
	From string
	To   string
	// URL receives the answer and gather callbacks.
	URL string
	// StatusCallback receives call status changes. Optional.
	StatusCallback string
	// Timeout is how long the provider lets the call ring.
	Timeout time.Duration
}

// CallHandle identifies a call accepted by the provider.
type CallHandle struct {
	ID     string
	Status string
}

// Provider abstracts the telephony integration.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (CallHandle, error)
	Hangup(ctx context.Context, callID string) error
}
