package concurrency

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Permits is a counting permit set. Acquire blocks until a permit is free or ctx ends;
// the returned release func is safe to call more than once but frees the permit only once.
type Permits interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process permit set sized to a fixed ceiling.
type Local struct {
	sem  *semaphore.Weighted
	size int
}

// NewLocal creates a permit set of the given size (minimum 1).
func NewLocal(size int) *Local {
	if size < 1 {
		size = 1
	}
	return &Local{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size is the ceiling.
func (l *Local) Size() int { return l.size }

func (l *Local) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("concurrency: acquire local permit: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.sem.Release(1) })
	}, nil
}

// Chain acquires from every permit set in order and releases in reverse.
type Chain []Permits

func (c Chain) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, p := range c {
		release, err := p.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
