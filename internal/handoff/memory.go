package handoff

import (
	"context"
	"sync"
	"time"
)

type storedOutcome struct {
	at      time.Time
	outcome Outcome
}

// MemoryBroker is a single-process Broker.
type MemoryBroker struct {
	mu        sync.Mutex
	outcomes  map[string]storedOutcome
	waiters   map[string][]chan Outcome
	retention time.Duration
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker(retention time.Duration) *MemoryBroker {
	return &MemoryBroker{
		outcomes:  make(map[string]storedOutcome),
		waiters:   make(map[string][]chan Outcome),
		retention: retention,
	}
}

func (b *MemoryBroker) Publish(_ context.Context, key string, outcome Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for k, s := range b.outcomes {
		if now.Sub(s.at) > b.retention {
			delete(b.outcomes, k)
		}
	}

	b.outcomes[key] = storedOutcome{outcome: outcome, at: now}
	for _, ch := range b.waiters[key] {
		ch <- outcome
	}
	delete(b.waiters, key)
	return nil
}

func (b *MemoryBroker) Wait(ctx context.Context, key string, timeout time.Duration) (Outcome, error) {
	b.mu.Lock()
	if s, ok := b.outcomes[key]; ok {
		b.mu.Unlock()
		return s.outcome, nil
	}
	ch := make(chan Outcome, 1)
	b.waiters[key] = append(b.waiters[key], ch)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-timer.C:
		b.dropWaiter(key, ch)
		return TimedOut(), nil
	case <-ctx.Done():
		b.dropWaiter(key, ch)
		return Outcome{}, ctx.Err()
	}
}

func (b *MemoryBroker) dropWaiter(key string, ch chan Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiters := b.waiters[key]
	for i, w := range waiters {
		if w == ch {
			b.waiters[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(b.waiters[key]) == 0 {
		delete(b.waiters, key)
	}
}
