package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acme/ivr-balance-checker/internal/telephony"
	"github.com/acme/ivr-balance-checker/internal/webhook"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []webhook.RawEvent
	done   chan struct{}
}

func (r *recordingDispatcher) Dispatch(_ context.Context, raw webhook.RawEvent) webhook.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, raw)
	switch {
	case raw.SpeechResult != "":
		return webhook.Reply{Kind: webhook.ReplyHangup}
	case raw.CallStatus == "in-progress":
		return webhook.Reply{Kind: webhook.ReplyNavigate}
	default:
		close(r.done)
		return webhook.Reply{Kind: webhook.ReplyHangup}
	}
}

func TestAnsweredCallReplaysConversation(t *testing.T) {
	rec := &recordingDispatcher{done: make(chan struct{})}
	p := NewProvider(rec, Options{Speech: "your balance is $5", SuccessRate: 1, Delay: time.Millisecond})

	handle, err := p.PlaceCall(context.Background(), telephony.CallRequest{To: "+16502530000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("conversation did not finish")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(rec.events))
	}
	for _, ev := range rec.events {
		if ev.CallSid != handle.ID {
			t.Fatalf("callback for wrong call %q", ev.CallSid)
		}
	}
	if rec.events[1].SpeechResult != "your balance is $5" || rec.events[2].CallStatus != "completed" {
		t.Fatalf("unexpected sequence %+v", rec.events)
	}
}

func TestUnansweredCallEndsWithTerminalStatus(t *testing.T) {
	rec := &recordingDispatcher{done: make(chan struct{})}
	p := NewProvider(rec, Options{SuccessRate: 0, Delay: time.Millisecond})

	if _, err := p.PlaceCall(context.Background(), telephony.CallRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("no terminal callback")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	status := rec.events[0].CallStatus
	if status != "busy" && status != "no-answer" {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestRejectedCall(t *testing.T) {
	p := NewProvider(nil, Options{RejectRate: 1})
	_, err := p.PlaceCall(context.Background(), telephony.CallRequest{})
	if !errors.Is(err, apperrors.ErrInitiation) {
		t.Fatalf("expected initiation error, got %v", err)
	}
	if len(p.Placed()) != 1 {
		t.Fatalf("expected request to be recorded")
	}
}
