package ivr

import (
	"fmt"
	"strconv"
	"time"

	"github.com/twilio/twilio-go/twiml"
)

// hangupDocument is served if the markup library ever fails to render the bare hangup.
const hangupDocument = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`

// Config holds the menu-navigation protocol of the target IVR. Durations must be whole seconds.
type Config struct {
	PauseAfterPickup    time.Duration
	MenuKey             string
	PauseAfterMenuKey   time.Duration
	PauseBetweenSecrets time.Duration
	PauseBeforeListen   time.Duration
	ListenTimeout       time.Duration
	SpeechTimeout       time.Duration
	Prompt              string
	// ActionURL is where the provider posts the gathered speech, normally the webhook endpoint itself.
	ActionURL string
}

// Generator assembles LaML/TwiML documents for a call.
type Generator struct {
	cfg Config
}

// New creates a generator for cfg.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Navigation returns the full script: pauses and key presses for the menu, both secrets,
// then a speech gather and a trailing hangup in case nothing is heard.
func (g *Generator) Navigation(primary, secondary string) (string, error) {
	elements := []twiml.Element{
		&twiml.VoicePause{Length: seconds(g.cfg.PauseAfterPickup)},
		&twiml.VoicePlay{Digits: g.cfg.MenuKey},
		&twiml.VoicePause{Length: seconds(g.cfg.PauseAfterMenuKey)},
		&twiml.VoicePlay{Digits: primary},
		&twiml.VoicePause{Length: seconds(g.cfg.PauseBetweenSecrets)},
		&twiml.VoicePlay{Digits: secondary},
		&twiml.VoicePause{Length: seconds(g.cfg.PauseBeforeListen)},
		g.gather(),
		&twiml.VoiceHangup{},
	}
	doc, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("ivr: render navigation: %w", err)
	}
	return doc, nil
}

// ListenAgain returns only the speech gather, for repeat in-progress events.
func (g *Generator) ListenAgain() (string, error) {
	doc, err := twiml.Voice([]twiml.Element{g.gather()})
	if err != nil {
		return "", fmt.Errorf("ivr: render listen: %w", err)
	}
	return doc, nil
}

// Hangup returns the bare hangup document. It never fails.
func (g *Generator) Hangup() string {
	doc, err := twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
	if err != nil {
		return hangupDocument
	}
	return doc
}

func (g *Generator) gather() *twiml.VoiceGather {
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Timeout: seconds(g.cfg.ListenTimeout),
		Action:  g.cfg.ActionURL,
		Method:  "POST",
	}
	// zero leaves the provider's own end-of-speech detection in place
	if g.cfg.SpeechTimeout > 0 {
		gather.SpeechTimeout = seconds(g.cfg.SpeechTimeout)
	}
	if g.cfg.Prompt != "" {
		gather.InnerElements = []twiml.Element{&twiml.VoiceSay{Message: g.cfg.Prompt}}
	}
	return gather
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}
