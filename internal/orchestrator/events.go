package orchestrator

import (
	"sync"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Subscriber receives every domain event the engine publishes. Callbacks run
// synchronously on the engine goroutine and must return quickly.
type Subscriber func(event transform.DomainEvent)

type eventBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

func (b *eventBus) subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

func (b *eventBus) publish(event transform.DomainEvent) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		s(event)
	}
}
