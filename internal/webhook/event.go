package webhook

import (
	"strings"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// RawEvent is a provider callback as decoded from its form post.
type RawEvent struct {
	CallSid      string `form:"CallSid"`
	CallStatus   string `form:"CallStatus"`
	SpeechResult string `form:"SpeechResult"`
}

// Event is the closed set of shapes a callback can take.
type Event interface {
	CallID() string
	isEvent()
}

// SpeechEvent carries transcribed speech. Then is what the same callback says about the call status,
// evaluated only if the speech did not resolve the session.
type SpeechEvent struct {
	Call string
	Text string
	Then Event
}

// TerminalEvent reports that the provider considers the call over.
type TerminalEvent struct {
	Call   string
	Status string
}

// ProgressEvent reports that the call was answered and is live.
type ProgressEvent struct {
	Call string
}

// UnknownEvent is any status we do not act on, such as ringing or queued.
type UnknownEvent struct {
	Call   string
	Status string
}

// MalformedEvent is a callback missing the fields needed to route it.
type MalformedEvent struct {
	Reason string
}

func (e SpeechEvent) CallID() string    { return e.Call }
func (e TerminalEvent) CallID() string  { return e.Call }
func (e ProgressEvent) CallID() string  { return e.Call }
func (e UnknownEvent) CallID() string   { return e.Call }
func (e MalformedEvent) CallID() string { return "" }

func (SpeechEvent) isEvent()    {}
func (TerminalEvent) isEvent()  {}
func (ProgressEvent) isEvent()  {}
func (UnknownEvent) isEvent()   {}
func (MalformedEvent) isEvent() {}

// Classify maps a raw callback onto an Event.
// Precedence: speech, then terminal status, then in-progress, then anything else.
func Classify(raw RawEvent) Event {
	callID := strings.TrimSpace(raw.CallSid)
	if callID == "" {
		return MalformedEvent{Reason: "missing CallSid"}
	}

	status := classifyStatus(callID, raw.CallStatus)
	if text := strings.TrimSpace(raw.SpeechResult); text != "" {
		return SpeechEvent{Call: callID, Text: text, Then: status}
	}
	return status
}

func classifyStatus(callID, raw string) Event {
	status := domain.NormalizeProviderStatus(raw)
	switch {
	case domain.IsTerminalProviderStatus(status):
		return TerminalEvent{Call: callID, Status: status}
	case status == domain.ProviderStatusInProgress:
		return ProgressEvent{Call: callID}
	default:
		return UnknownEvent{Call: callID, Status: status}
	}
}
