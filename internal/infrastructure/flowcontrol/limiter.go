// Package flowcontrol caps the number of in-flight jobs per tenant.
//
// The ceiling is enforced inside one worker process. Running N workers allows up
// to N times the configured parallelism for a tenant.
package flowcontrol

import (
	"context"
	"sync"
)

const DefaultParallelism = 3

type Limiter struct {
	mu       sync.Mutex
	limit    int
	inFlight map[string]int
	released chan struct{}
}

func NewLimiter(parallelism int) *Limiter {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Limiter{
		limit:    parallelism,
		inFlight: make(map[string]int),
		released: make(chan struct{}),
	}
}

// Acquire blocks until tenant has a free slot or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, tenant string) error {
	for {
		l.mu.Lock()
		if l.inFlight[tenant] < l.limit {
			l.inFlight[tenant]++
			l.mu.Unlock()
			return nil
		}
		released := l.released
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		}
	}
}

// TryAcquire reserves a slot for tenant. It never blocks.
func (l *Limiter) TryAcquire(tenant string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[tenant] >= l.limit {
		return false
	}
	l.inFlight[tenant]++
	return true
}

func (l *Limiter) Release(tenant string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch n := l.inFlight[tenant]; {
	case n <= 1:
		delete(l.inFlight, tenant)
	default:
		l.inFlight[tenant] = n - 1
	}
	close(l.released)
	l.released = make(chan struct{})
}

func (l *Limiter) InFlight(tenant string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[tenant]
}
