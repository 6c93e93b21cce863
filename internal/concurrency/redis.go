package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)

// Redis coordinates an in-flight call ceiling across processes using a Redis counter.
type Redis struct {
	client *redis.Client
	key    string
	limit  int
	ttl    time.Duration
	poll   time.Duration
	onErr  func(error)
}

// NewRedis builds a limiter for one batch. The counter key is derived from the batch name.
func NewRedis(client *redis.Client, batch string, limit int, ttl time.Duration, onReleaseErr func(error)) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		client: client,
		key:    Key(batch),
		limit:  limit,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		onErr:  onReleaseErr,
	}
}

// Key is the Redis key holding the active count for a batch.
func Key(batch string) string {
	return fmt.Sprintf("balance:batch:%s:active", batch)
}

// TryAcquire attempts to reserve a slot without waiting.
func (l *Redis) TryAcquire(ctx context.Context) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	res, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Acquire polls until a slot is free or ctx ends.
func (l *Redis) Acquire(ctx context.Context) (func(), error) {
	for {
		acquired, err := l.TryAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if acquired {
			var once sync.Once
			return func() {
				once.Do(func() {
					if err := l.release(context.Background()); err != nil && l.onErr != nil {
						l.onErr(err)
					}
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *Redis) release(ctx context.Context) error {
	if l.limit <= 0 {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}
