package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/acme/ivr-balance-checker/internal/api/handlers"
	"github.com/acme/ivr-balance-checker/internal/config"
	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/registry"
	"github.com/acme/ivr-balance-checker/internal/webhook"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []webhook.RawEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, raw webhook.RawEvent) webhook.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, raw)
	if raw.CallSid == "" {
		return webhook.Reply{Kind: webhook.ReplyHangup, Body: "<Response><Hangup/></Response>"}
	}
	return webhook.Reply{Kind: webhook.ReplyListen, Body: "<Response><Gather/></Response>"}
}

func (d *recordingDispatcher) DispatchStatus(ctx context.Context, raw webhook.RawEvent) webhook.Reply {
	d.Dispatch(ctx, raw)
	return webhook.Reply{Kind: webhook.ReplyIgnored}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(d handlers.Dispatcher, reg *registry.Registry, checks map[string]handlers.Pinger) *Server {
	h := handlers.NewHandlerSet(handlers.Deps{
		Dispatcher:  d,
		Registry:    reg,
		Checks:      checks,
		WebhookPath: "/voice",
		StatusPath:  "/status",
	})
	return NewServer(config.HTTPConfig{}, h)
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestVoiceWebhookRepliesWithScript(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newTestServer(d, registry.New(), nil)

	resp, err := srv.App().Test(formRequest("/voice", url.Values{
		"CallSid":      {"CA123"},
		"CallStatus":   {"in-progress"},
		"SpeechResult": {"your balance is $5"},
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<Response><Gather/></Response>" {
		t.Fatalf("unexpected body %q", body)
	}

	if len(d.events) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(d.events))
	}
	got := d.events[0]
	if got.CallSid != "CA123" || got.CallStatus != "in-progress" || got.SpeechResult != "your balance is $5" {
		t.Fatalf("unexpected decoded event %+v", got)
	}
}

func TestVoiceWebhookMalformedBodyHangsUp(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newTestServer(d, registry.New(), nil)

	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Hangup") {
		t.Fatalf("expected hangup reply, got %d %q", resp.StatusCode, body)
	}
}

func TestStatusCallbackNoContent(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newTestServer(d, registry.New(), nil)

	resp, err := srv.App().Test(formRequest("/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"busy"}}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(d.events) != 1 || d.events[0].CallStatus != "busy" {
		t.Fatalf("status callback not dispatched: %+v", d.events)
	}
}

func TestHealth(t *testing.T) {
	reg := registry.New()
	s := domain.NewSession(domain.WorkItem{Identifier: "4111111111111111", Secret: "1"})
	if err := s.MarkDialing("CA1"); err != nil {
		t.Fatalf("mark dialing: %v", err)
	}
	reg.Register("CA1", s)

	healthy := newTestServer(&recordingDispatcher{}, reg, map[string]handlers.Pinger{
		"sqlite": pingerFunc(func(context.Context) error { return nil }),
	})
	resp, err := healthy.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
		Active int    `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.Active != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	degraded := newTestServer(&recordingDispatcher{}, reg, map[string]handlers.Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	resp, err = degraded.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSessionLookup(t *testing.T) {
	reg := registry.New()
	s := domain.NewSession(domain.WorkItem{Identifier: "4111111111111111", Secret: "1"})
	_ = s.MarkDialing("CA7")
	reg.Register("CA7", s)
	srv := newTestServer(&recordingDispatcher{}, reg, nil)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/sessions/CA7", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"card":"****1111"`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "4111111111111111") {
		t.Fatalf("response leaks card number: %s", body)
	}

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
