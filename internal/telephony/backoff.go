package telephony

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"
)

// RetryPolicy controls how transient call-initiation failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy builds a policy; zero values fall back to sane defaults.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration, jitter float64) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      jitter,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before the given 1-based attempt is retried.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exponent := math.Pow(2, float64(attempt-1))
	delay := time.Duration(exponent) * p.BaseDelay
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 && p.rng != nil {
		p.mu.Lock()
		jitterFraction := p.rng.Float64()*p.Jitter - (p.Jitter / 2)
		p.mu.Unlock()
		delay += time.Duration(float64(delay) * jitterFraction)
		if delay < p.BaseDelay {
			delay = p.BaseDelay
		}
	}
	return delay
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := 1
	if p != nil && p.MaxAttempts > 0 {
		maxAttempts = p.MaxAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}

// StatusError is a non-2xx answer from a provider REST API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Code) + ": " + e.Body
}

// Retryable reports whether err is worth another attempt: throttling, server errors and network failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
