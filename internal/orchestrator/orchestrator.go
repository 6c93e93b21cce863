package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/acme/ivr-balance-checker/internal/concurrency"
	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/registry"
	"github.com/acme/ivr-balance-checker/internal/sink"
	"github.com/acme/ivr-balance-checker/internal/telephony"
	"github.com/acme/ivr-balance-checker/pkg/logger"
)

// ReasonCancelled is the failure reason for units interrupted by batch cancellation.
const ReasonCancelled = "Cancelled"

// Options configure a batch run.
type Options struct {
	From              string
	To                string
	WebhookURL        string
	StatusCallbackURL string
	RingTimeout       time.Duration
	// CallTimeout bounds the wait for a session to resolve after the call was placed.
	CallTimeout time.Duration
	// RequestTimeout bounds a single outbound call or hangup request.
	RequestTimeout time.Duration
	// RequestsPerSecond paces call initiation. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// HangupOnTimeout asks the provider to end calls that outlived CallTimeout.
	HangupOnTimeout bool
}

// Orchestrator runs work items as outbound call sessions under a permit ceiling.
type Orchestrator struct {
	provider telephony.Provider
	registry *registry.Registry
	permits  concurrency.Permits
	results  sink.ResultSink
	pacer    *rate.Limiter
	opts     Options
	log      *logger.Logger
}

// New wires an orchestrator. Nil permits default to a single local permit; a nil sink discards results.
func New(provider telephony.Provider, reg *registry.Registry, permits concurrency.Permits, results sink.ResultSink, opts Options, log *logger.Logger) *Orchestrator {
	if permits == nil {
		permits = concurrency.NewLocal(1)
	}
	if results == nil {
		results = sink.Discard{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Orchestrator{
		provider: provider,
		registry: reg,
		permits:  permits,
		results:  results,
		pacer:    pacer,
		opts:     opts,
		log:      log,
	}
}

// Summary aggregates a batch run.
type Summary struct {
	Processed int
	Completed int
	Failed    int
	Errored   int
	Elapsed   time.Duration
}

// RatePerMinute is the number of processed units per minute of wall time.
func (s Summary) RatePerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Minutes()
}

func (s *Summary) add(status domain.Status) {
	s.Processed++
	switch status {
	case domain.StatusCompleted:
		s.Completed++
	case domain.StatusError:
		s.Errored++
	default:
		s.Failed++
	}
}

// Run processes every item and returns once each one has a recorded result.
// A permit is acquired before a unit starts, so at most the permit ceiling of calls are in flight.
func (o *Orchestrator) Run(ctx context.Context, items []domain.WorkItem) Summary {
	start := time.Now()

	var (
		mu      sync.Mutex
		summary Summary
	)
	tally := func(res domain.Result) {
		mu.Lock()
		summary.add(res.Status)
		mu.Unlock()
	}

	// units never return an error, so the group context only ends with ctx
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		release, err := o.permits.Acquire(gctx)
		if err != nil {
			tally(o.abandon(ctx, item, err))
			continue
		}
		g.Go(func() error {
			defer release()
			tally(o.runUnit(gctx, item))
			return nil
		})
	}
	_ = g.Wait()

	summary.Elapsed = time.Since(start)
	o.log.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("errored", summary.Errored),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary
}

func (o *Orchestrator) runUnit(ctx context.Context, item domain.WorkItem) (res domain.Result) {
	session := domain.NewSession(item)

	tracer := otel.Tracer("balance.orchestrator")
	ctx, span := tracer.Start(ctx, "balance.unit", trace.WithAttributes(
		attribute.String("session.id", session.ID.String()),
		attribute.String("card", item.MaskedIdentifier()),
	))
	defer span.End()

	log := o.log.WithContext(ctx).With(
		zap.String("session_id", session.ID.String()),
		zap.String("card", item.MaskedIdentifier()),
	)

	// set by finish so a panicking sink does not get a second row for this unit
	recorded := false
	defer func() {
		if r := recover(); r != nil {
			if id := session.ProviderCallID(); id != "" {
				o.registry.Unregister(id)
			}
			res = session.Result()
			res.Status = domain.StatusError
			res.FailureReason = fmt.Sprintf("panic: %v", r)
			if res.FinishedAt.IsZero() {
				res.FinishedAt = time.Now().UTC()
			}
			span.SetStatus(codes.Error, res.FailureReason)
			log.Error("unit panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			if !recorded {
				o.record(ctx, log, res)
			}
		}
	}()

	if err := o.pacer.Wait(ctx); err != nil {
		session.Abort(ReasonCancelled)
		return o.finish(ctx, log, span, session, &recorded)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	handle, err := o.provider.PlaceCall(callCtx, telephony.CallRequest{
		From:           o.opts.From,
		To:             o.opts.To,
		URL:            o.opts.WebhookURL,
		StatusCallback: o.opts.StatusCallbackURL,
		Timeout:        o.opts.RingTimeout,
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		log.Warn("call initiation failed", zap.Error(err))
		session.FailInitiation(err)
		return o.finish(ctx, log, span, session, &recorded)
	}

	if err := session.MarkDialing(handle.ID); err != nil {
		span.RecordError(err)
		session.Abort(err.Error())
		return o.finish(ctx, log, span, session, &recorded)
	}
	o.registry.Register(handle.ID, session)
	span.SetAttributes(attribute.String("call.id", handle.ID))
	log.Info("call placed", zap.String("call_id", handle.ID))

	o.await(ctx, log, session, handle.ID)
	o.registry.Unregister(handle.ID)

	return o.finish(ctx, log, span, session, &recorded)
}

func (o *Orchestrator) await(ctx context.Context, log *logger.Logger, session *domain.Session, callID string) {
	timer := time.NewTimer(o.opts.CallTimeout)
	defer timer.Stop()

	select {
	case <-session.Done():
		return
	case <-timer.C:
		if session.ForceTimeout() {
			log.Warn("call timed out", zap.String("call_id", callID), zap.Duration("timeout", o.opts.CallTimeout))
			if o.opts.HangupOnTimeout {
				o.hangup(ctx, log, callID)
			}
		}
	case <-ctx.Done():
		if session.Abort(ReasonCancelled) {
			o.hangup(ctx, log, callID)
		}
	}
}

// hangup is best effort; the session is already terminal either way.
func (o *Orchestrator) hangup(ctx context.Context, log *logger.Logger, callID string) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RequestTimeout)
	defer cancel()
	if err := o.provider.Hangup(hctx, callID); err != nil {
		log.Warn("hangup failed", zap.String("call_id", callID), zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *logger.Logger, span trace.Span, session *domain.Session, recorded *bool) domain.Result {
	res := session.Result()
	span.SetAttributes(attribute.String("session.status", string(res.Status)))
	if res.Status == domain.StatusFailed {
		span.SetStatus(codes.Error, res.FailureReason)
	}
	log.Info("unit finished",
		zap.String("status", string(res.Status)),
		zap.String("balance", res.Balance),
		zap.String("reason", res.FailureReason),
		zap.Duration("duration", res.Duration()),
	)
	*recorded = true
	o.record(ctx, log, res)
	return res
}

// abandon records an item that never got a permit.
func (o *Orchestrator) abandon(ctx context.Context, item domain.WorkItem, err error) domain.Result {
	session := domain.NewSession(item)
	if ctx.Err() != nil {
		session.Abort(ReasonCancelled)
	} else {
		session.Abort("Permit Error: " + err.Error())
	}
	res := session.Result()
	log := o.log.With(zap.String("card", item.MaskedIdentifier()))
	log.Warn("unit not started", zap.Error(err))
	o.record(ctx, log, res)
	return res
}

// record detaches from cancellation; interrupted batches still get their rows.
func (o *Orchestrator) record(ctx context.Context, log *logger.Logger, res domain.Result) {
	if err := o.results.Record(context.WithoutCancel(ctx), res); err != nil {
		log.Error("record result", zap.Error(err))
	}
}
