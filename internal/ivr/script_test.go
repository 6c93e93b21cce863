package ivr

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		PauseAfterPickup:    6 * time.Second,
		MenuKey:             "9",
		PauseAfterMenuKey:   3 * time.Second,
		PauseBetweenSecrets: 5 * time.Second,
		PauseBeforeListen:   1 * time.Second,
		ListenTimeout:       45 * time.Second,
		SpeechTimeout:       5 * time.Second,
		Prompt:              "Please wait while we retrieve your balance information.",
		ActionURL:           "https://hooks.example.com/voice",
	}
}

func indexOf(t *testing.T, doc, needle string, from int) int {
	t.Helper()
	idx := strings.Index(doc[from:], needle)
	if idx < 0 {
		t.Fatalf("expected %q after offset %d in %s", needle, from, doc)
	}
	return from + idx
}

func TestNavigationOrder(t *testing.T) {
	g := New(testConfig())
	doc, err := g.Navigation("4111111111111111", "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pause, menu key, pause, primary, pause, secondary, pause, gather, hangup
	pos := indexOf(t, doc, "<Pause", 0)
	pos = indexOf(t, doc, `digits="9"`, pos)
	pos = indexOf(t, doc, "<Pause", pos)
	pos = indexOf(t, doc, `digits="4111111111111111"`, pos)
	pos = indexOf(t, doc, "<Pause", pos)
	pos = indexOf(t, doc, `digits="12345"`, pos)
	pos = indexOf(t, doc, "<Pause", pos)
	pos = indexOf(t, doc, "<Gather", pos)
	indexOf(t, doc, "<Hangup", pos)

	for _, want := range []string{
		`length="6"`, `length="3"`, `length="5"`, `length="1"`,
		`input="speech"`, `timeout="45"`, `speechTimeout="5"`,
		`action="https://hooks.example.com/voice"`, `method="POST"`,
		"Please wait while we retrieve your balance information.",
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %s in %s", want, doc)
		}
	}
}

func TestListenAgainIsGatherOnly(t *testing.T) {
	g := New(testConfig())
	doc, err := g.ListenAgain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(doc, "<Gather") {
		t.Fatalf("expected gather in %s", doc)
	}
	for _, unwanted := range []string{"<Play", "<Pause", "<Hangup"} {
		if strings.Contains(doc, unwanted) {
			t.Fatalf("listen-again must not contain %s: %s", unwanted, doc)
		}
	}
}

func TestHangup(t *testing.T) {
	doc := New(testConfig()).Hangup()
	if !strings.Contains(doc, "<Response>") || !strings.Contains(doc, "<Hangup") {
		t.Fatalf("unexpected hangup document %s", doc)
	}
	if strings.Contains(doc, "<Play") {
		t.Fatalf("hangup must not carry digits: %s", doc)
	}
}

func TestZeroSpeechTimeoutIsOmitted(t *testing.T) {
	cfg := testConfig()
	cfg.SpeechTimeout = 0
	doc, err := New(cfg).ListenAgain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(doc, "speechTimeout") {
		t.Fatalf("expected no speechTimeout attribute in %s", doc)
	}
	if !strings.Contains(doc, `timeout="45"`) {
		t.Fatalf("expected listen timeout in %s", doc)
	}
}
