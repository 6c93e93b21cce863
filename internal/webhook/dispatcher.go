package webhook

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/registry"
	"github.com/acme/ivr-balance-checker/pkg/logger"
)

// Scripts renders the documents returned to the provider.
type Scripts interface {
	Navigation(primary, secondary string) (string, error)
	ListenAgain() (string, error)
	Hangup() string
}

// ReplyKind says which script a reply carries.
type ReplyKind int

const (
	ReplyHangup ReplyKind = iota
	ReplyNavigate
	ReplyListen
	// ReplyIgnored means the callback did not change the session and carries no script.
	ReplyIgnored
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNavigate:
		return "navigate"
	case ReplyListen:
		return "listen"
	case ReplyIgnored:
		return "ignored"
	default:
		return "hangup"
	}
}

// Reply is the script document to send back for one callback.
type Reply struct {
	Kind ReplyKind
	Body string
}

// Dispatcher advances call sessions in lock-step with provider callbacks.
// It keeps no state of its own beyond the registry it was given.
type Dispatcher struct {
	registry  *registry.Registry
	scripts   Scripts
	extractor domain.Extractor
	logger    *logger.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(reg *registry.Registry, scripts Scripts, extractor domain.Extractor, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{registry: reg, scripts: scripts, extractor: extractor, logger: log}
}

// Dispatch handles one script request and returns the script to reply with. It never panics;
// any failure yields the hangup script.
func (d *Dispatcher) Dispatch(ctx context.Context, raw RawEvent) Reply {
	return d.dispatch(ctx, raw, "webhook.dispatch", false)
}

// DispatchStatus handles a status callback. Only terminal statuses act on the session; the
// navigation script is never consumed here because the provider discards status replies.
func (d *Dispatcher) DispatchStatus(ctx context.Context, raw RawEvent) Reply {
	return d.dispatch(ctx, raw, "webhook.status", true)
}

func (d *Dispatcher) dispatch(ctx context.Context, raw RawEvent, spanName string, statusOnly bool) (reply Reply) {
	event := Classify(raw)

	tracer := otel.Tracer("balance.webhook")
	_, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("call.sid", raw.CallSid),
		attribute.String("call.status", domain.NormalizeProviderStatus(raw.CallStatus)),
		attribute.Bool("speech.present", raw.SpeechResult != ""),
	))
	log := d.logger.WithContext(ctx).With(zap.String("call_sid", raw.CallSid))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("webhook: dispatch panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("webhook: recovered from panic", zap.Error(err))
			reply = d.hangup()
		}
		span.SetAttributes(attribute.String("reply.kind", reply.Kind.String()))
		span.End()
	}()

	if malformed, ok := event.(MalformedEvent); ok {
		log.Warn("webhook: malformed event", zap.String("reason", malformed.Reason))
		return d.hangup()
	}

	session, ok := d.registry.Lookup(event.CallID())
	if !ok {
		log.Warn("webhook: no session for call")
		return d.hangup()
	}
	log = log.With(zap.String("card", session.Item.MaskedIdentifier()))

	if statusOnly {
		if speech, ok := event.(SpeechEvent); ok {
			event = speech.Then
		}
		if _, ok := event.(TerminalEvent); !ok {
			log.Debug("webhook: status callback ignored", zap.String("status", raw.CallStatus))
			return Reply{Kind: ReplyIgnored}
		}
	}

	return d.handle(session, event, log)
}

func (d *Dispatcher) handle(session *domain.Session, event Event, log *logger.Logger) Reply {
	switch ev := event.(type) {
	case SpeechEvent:
		log.Info("webhook: speech transcribed", zap.String("speech", ev.Text))
		if session.OnSpeechResult(ev.Text, d.extractor) {
			balance, _ := session.Balance()
			log.Info("webhook: balance extracted", zap.String("balance", balance))
			d.registry.Unregister(ev.Call)
			return d.hangup()
		}
		return d.handle(session, ev.Then, log)

	case TerminalEvent:
		if session.OnTerminalProviderStatus(ev.Status) {
			log.Info("webhook: call ended without balance", zap.String("status", ev.Status))
		}
		d.registry.Unregister(ev.Call)
		return d.hangup()

	case ProgressEvent:
		switch session.OnProgressEvent() {
		case domain.ProgressNavigate:
			body, err := d.scripts.Navigation(session.Item.Identifier, session.Item.Secret)
			if err != nil {
				log.Error("webhook: render navigation", zap.Error(err))
				return d.hangup()
			}
			log.Info("webhook: navigation sent")
			return Reply{Kind: ReplyNavigate, Body: body}
		case domain.ProgressListen:
			body, err := d.scripts.ListenAgain()
			if err != nil {
				log.Error("webhook: render listen", zap.Error(err))
				return d.hangup()
			}
			return Reply{Kind: ReplyListen, Body: body}
		default:
			return d.hangup()
		}

	case UnknownEvent:
		log.Debug("webhook: unhandled status", zap.String("status", ev.Status))
		return d.hangup()

	default:
		return d.hangup()
	}
}

func (d *Dispatcher) hangup() Reply {
	return Reply{Kind: ReplyHangup, Body: d.scripts.Hangup()}
}
