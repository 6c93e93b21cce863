package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/telephony"
	"github.com/acme/ivr-balance-checker/internal/webhook"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// Dispatcher receives the callbacks a real provider would post to the webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw webhook.RawEvent) webhook.Reply
}

// Options tune the simulated calls.
type Options struct {
	// Speech is what the simulated IVR says after navigation.
	Speech string
	// SuccessRate is the share of calls that get answered; the rest end busy or no-answer.
	SuccessRate float64
	// RejectRate is the share of create-call requests that fail outright.
	RejectRate float64
	// Delay is the base gap between simulated callbacks.
	Delay time.Duration
}

// Provider simulates outbound call behaviour, replaying a conversation into the dispatcher.
type Provider struct {
	opts       Options
	dispatcher Dispatcher

	mu     sync.Mutex
	rng    *rand.Rand
	active map[string]context.CancelFunc
	placed []telephony.CallRequest
}

// NewProvider constructs a mock provider. A nil dispatcher makes calls that never call back.
func NewProvider(dispatcher Dispatcher, opts Options) *Provider {
	if opts.Delay <= 0 {
		opts.Delay = 200 * time.Millisecond
	}
	return &Provider{
		opts:       opts,
		dispatcher: dispatcher,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		active:     make(map[string]context.CancelFunc),
	}
}

// PlaceCall returns a synthetic call sid and starts replaying the conversation.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallHandle, error) {
	if err := ctx.Err(); err != nil {
		return telephony.CallHandle{}, fmt.Errorf("mock: create call: %w: %w", apperrors.ErrInitiation, err)
	}

	p.mu.Lock()
	p.placed = append(p.placed, req)
	reject := p.rng.Float64() < p.opts.RejectRate
	answered := p.rng.Float64() < p.opts.SuccessRate
	jitter := time.Duration(p.rng.Int63n(int64(p.opts.Delay)))
	p.mu.Unlock()

	if reject {
		return telephony.CallHandle{}, fmt.Errorf("mock: create call: %w: simulated rejection", apperrors.ErrInitiation)
	}

	id := "CA" + uuid.NewString()
	if p.dispatcher == nil {
		return telephony.CallHandle{ID: id, Status: "queued"}, nil
	}

	replayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.active[id] = cancel
	p.mu.Unlock()

	go p.replay(replayCtx, id, answered, p.opts.Delay+jitter)
	return telephony.CallHandle{ID: id, Status: "queued"}, nil
}

// Hangup stops any pending callbacks for the call. Unknown or finished calls are ignored.
func (p *Provider) Hangup(_ context.Context, callID string) error {
	p.mu.Lock()
	cancel, ok := p.active[callID]
	delete(p.active, callID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Placed returns every request seen so far.
func (p *Provider) Placed() []telephony.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telephony.CallRequest(nil), p.placed...)
}

func (p *Provider) replay(ctx context.Context, id string, answered bool, gap time.Duration) {
	defer func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
	}()

	if !answered {
		status := domain.ProviderStatusNoAnswer
		if gap%2 == 0 {
			status = domain.ProviderStatusBusy
		}
		p.post(ctx, gap, webhook.RawEvent{CallSid: id, CallStatus: status})
		return
	}

	reply, ok := p.post(ctx, gap, webhook.RawEvent{CallSid: id, CallStatus: domain.ProviderStatusInProgress})
	if !ok || reply.Kind != webhook.ReplyNavigate {
		return
	}
	reply, ok = p.post(ctx, gap, webhook.RawEvent{
		CallSid:      id,
		CallStatus:   domain.ProviderStatusInProgress,
		SpeechResult: p.opts.Speech,
	})
	if !ok {
		return
	}
	if reply.Kind == webhook.ReplyHangup {
		p.post(ctx, gap, webhook.RawEvent{CallSid: id, CallStatus: domain.ProviderStatusCompleted})
	}
}

func (p *Provider) post(ctx context.Context, after time.Duration, raw webhook.RawEvent) (webhook.Reply, bool) {
	select {
	case <-ctx.Done():
		return webhook.Reply{}, false
	case <-time.After(after):
	}
	return p.dispatcher.Dispatch(ctx, raw), true
}
