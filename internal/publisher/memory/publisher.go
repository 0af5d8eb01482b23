// Package memory contains an in-memory publisher implementation for tests.
package memory

import (
	"context"
	"sync"

	"github.com/truesight/crawld/internal/crawler"
)

// Publisher stores published task events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []crawler.TaskEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event crawler.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []crawler.TaskEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.TaskEvent, len(p.events))
	copy(out, p.events)
	return out
}
