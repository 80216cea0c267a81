package orchestrator

import (
	"context"
	"sync"
)

// codebaseLease enforces the single-writer rule: at most one batch per
// codebase may be between applying and testing at any instant, regardless of
// how many plans are in flight.
type codebaseLease struct {
	mu     sync.Mutex
	active map[string]chan struct{}
}

func newCodebaseLease() *codebaseLease {
	return &codebaseLease{active: make(map[string]chan struct{})}
}

// acquire blocks until the lease for the codebase is free or the context is
// canceled.
func (l *codebaseLease) acquire(ctx context.Context, codebase string) error {
	for {
		l.mu.Lock()
		holder, held := l.active[codebase]
		if !held {
			l.active[codebase] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-holder:
		}
	}
}

// release frees the lease and wakes waiters.
func (l *codebaseLease) release(codebase string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, held := l.active[codebase]; held {
		delete(l.active, codebase)
		close(holder)
	}
}
