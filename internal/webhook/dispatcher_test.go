package webhook

import (
	"context"
	"testing"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/extraction"
	"github.com/acme/ivr-balance-checker/internal/registry"
)

type stubScripts struct{}

func (stubScripts) Navigation(primary, secondary string) (string, error) {
	return "NAV " + primary + " " + secondary, nil
}
func (stubScripts) ListenAgain() (string, error) { return "LISTEN", nil }
func (stubScripts) Hangup() string               { return "HANGUP" }

type panickingExtractor struct{}

func (panickingExtractor) Match(string) extraction.Match { panic("boom") }

func newFixture(t *testing.T) (*Dispatcher, *registry.Registry, *domain.Session) {
	t.Helper()
	reg := registry.New()
	session := domain.NewSession(domain.WorkItem{Identifier: "4111111111111111", Secret: "12345"})
	if err := session.MarkDialing("CA1"); err != nil {
		t.Fatalf("mark dialing: %v", err)
	}
	reg.Register("CA1", session)
	return NewDispatcher(reg, stubScripts{}, extraction.MustNew(), nil), reg, session
}

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		raw  RawEvent
		want string
	}{
		{RawEvent{}, "malformed"},
		{RawEvent{CallSid: "  ", CallStatus: "completed"}, "malformed"},
		{RawEvent{CallSid: "CA1", CallStatus: "completed", SpeechResult: "balance is 5"}, "speech"},
		{RawEvent{CallSid: "CA1", CallStatus: "COMPLETED"}, "terminal"},
		{RawEvent{CallSid: "CA1", CallStatus: "no-answer"}, "terminal"},
		{RawEvent{CallSid: "CA1", CallStatus: "In-Progress"}, "progress"},
		{RawEvent{CallSid: "CA1", CallStatus: "ringing"}, "unknown"},
		{RawEvent{CallSid: "CA1", CallStatus: "in-progress", SpeechResult: "   "}, "progress"},
	}

	for _, tc := range cases {
		var got string
		switch Classify(tc.raw).(type) {
		case MalformedEvent:
			got = "malformed"
		case SpeechEvent:
			got = "speech"
		case TerminalEvent:
			got = "terminal"
		case ProgressEvent:
			got = "progress"
		case UnknownEvent:
			got = "unknown"
		}
		if got != tc.want {
			t.Errorf("Classify(%+v) = %s, want %s", tc.raw, got, tc.want)
		}
	}

	speech := Classify(RawEvent{CallSid: "CA1", CallStatus: "busy", SpeechResult: "hi"}).(SpeechEvent)
	if _, ok := speech.Then.(TerminalEvent); !ok {
		t.Fatalf("expected terminal follow-up, got %T", speech.Then)
	}
}

func TestUnknownSessionHangsUp(t *testing.T) {
	d, _, _ := newFixture(t)
	for _, raw := range []RawEvent{
		{CallSid: "CA-missing", CallStatus: "in-progress"},
		{CallSid: "CA-missing", SpeechResult: "your balance is $5"},
		{},
	} {
		reply := d.Dispatch(context.Background(), raw)
		if reply.Kind != ReplyHangup || reply.Body != "HANGUP" {
			t.Fatalf("expected hangup for %+v, got %+v", raw, reply)
		}
	}
}

func TestNavigationThenListen(t *testing.T) {
	d, _, session := newFixture(t)
	ctx := context.Background()

	reply := d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "in-progress"})
	if reply.Kind != ReplyNavigate || reply.Body != "NAV 4111111111111111 12345" {
		t.Fatalf("expected navigation, got %+v", reply)
	}

	reply = d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "in-progress"})
	if reply.Kind != ReplyListen {
		t.Fatalf("expected listen on duplicate progress, got %+v", reply)
	}

	// speech that does not resolve falls through to the in-progress branch
	reply = d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "in-progress", SpeechResult: "welcome to the bank"})
	if reply.Kind != ReplyListen {
		t.Fatalf("expected listen after unmatched speech, got %+v", reply)
	}
	if session.Status() != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", session.Status())
	}
}

func TestSpeechWinsOverTerminalStatus(t *testing.T) {
	d, reg, session := newFixture(t)
	ctx := context.Background()
	d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "in-progress"})

	reply := d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "completed", SpeechResult: "Your current balance is $523.10"})
	if reply.Kind != ReplyHangup {
		t.Fatalf("expected hangup, got %+v", reply)
	}
	if session.Status() != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", session.Status())
	}
	if balance, _ := session.Balance(); balance != "Current Balance: $523.10" {
		t.Fatalf("unexpected balance %q", balance)
	}
	if _, ok := reg.Lookup("CA1"); ok {
		t.Fatalf("expected session to be unregistered")
	}
}

func TestTerminalStatusFailsAndUnregisters(t *testing.T) {
	d, reg, session := newFixture(t)

	reply := d.Dispatch(context.Background(), RawEvent{CallSid: "CA1", CallStatus: "busy"})
	if reply.Kind != ReplyHangup {
		t.Fatalf("expected hangup, got %+v", reply)
	}
	if session.Status() != domain.StatusFailed || session.FailureReason() != "busy" {
		t.Fatalf("expected FAILED(busy), got %s(%s)", session.Status(), session.FailureReason())
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
	select {
	case <-session.Done():
	default:
		t.Fatalf("expected completion signal")
	}

	// a second terminal event for the same call is an unknown session now
	reply = d.Dispatch(context.Background(), RawEvent{CallSid: "CA1", CallStatus: "completed"})
	if reply.Kind != ReplyHangup {
		t.Fatalf("expected hangup, got %+v", reply)
	}
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	reg := registry.New()
	session := domain.NewSession(domain.WorkItem{Identifier: "4111111111111111", Secret: "12345"})
	_ = session.MarkDialing("CA1")
	reg.Register("CA1", session)
	d := NewDispatcher(reg, stubScripts{}, panickingExtractor{}, nil)

	reply := d.Dispatch(context.Background(), RawEvent{CallSid: "CA1", SpeechResult: "anything"})
	if reply.Kind != ReplyHangup || reply.Body != "HANGUP" {
		t.Fatalf("expected hangup after panic, got %+v", reply)
	}
}

func TestStatusCallbackLeavesNavigationToScriptRequest(t *testing.T) {
	d, reg, session := newFixture(t)
	ctx := context.Background()

	for _, raw := range []RawEvent{
		{CallSid: "CA1", CallStatus: "ringing"},
		{CallSid: "CA1", CallStatus: "in-progress"},
		{CallSid: "CA1", CallStatus: "in-progress", SpeechResult: "your current balance is $5"},
	} {
		if reply := d.DispatchStatus(ctx, raw); reply.Kind != ReplyIgnored || reply.Body != "" {
			t.Fatalf("status %+v: expected ignored reply, got %+v", raw, reply)
		}
	}
	if session.NavigationSent() {
		t.Fatalf("status callback must not consume the navigation script")
	}
	if balance, _ := session.Balance(); balance != "" || len(session.Transcript()) != 0 {
		t.Fatalf("status callback must not feed speech into the session")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected session to stay registered")
	}

	reply := d.Dispatch(ctx, RawEvent{CallSid: "CA1", CallStatus: "in-progress"})
	if reply.Kind != ReplyNavigate || reply.Body != "NAV 4111111111111111 12345" {
		t.Fatalf("expected navigation on script request, got %+v", reply)
	}

	reply = d.DispatchStatus(ctx, RawEvent{CallSid: "CA1", CallStatus: "no-answer"})
	if reply.Kind != ReplyHangup {
		t.Fatalf("expected terminal status to resolve the session, got %+v", reply)
	}
	if session.Status() != domain.StatusFailed || reg.Len() != 0 {
		t.Fatalf("expected FAILED and unregistered, got %s with %d registered", session.Status(), reg.Len())
	}
}
