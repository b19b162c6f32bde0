package bus

import (
	"context"
	"sync"

	"github.com/supoclip/api/internal/model"
)

// MemoryBus is an in-process Bus. It backs single-node deployments
// where worker and API share a process, and the test suites.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySubscription]bool),
	}
}

// Publish delivers the event to every current subscriber of the task.
// A subscriber that cannot keep up with its buffer is dropped, the
// same policy the gateway applies to slow websocket clients.
func (b *MemoryBus) Publish(_ context.Context, event model.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[event.TaskID] {
		select {
		case sub.events <- event:
		default:
			delete(b.subs[event.TaskID], sub)
			close(sub.events)
			sub.closed = true
		}
	}
	return nil
}

// Subscribe opens a live subscription for one task
func (b *MemoryBus) Subscribe(_ context.Context, taskID string) (Subscription, error) {
	sub := &memorySubscription{
		bus:    b,
		taskID: taskID,
		events: make(chan model.ProgressEvent, 16),
	}
	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[*memorySubscription]bool)
	}
	b.subs[taskID][sub] = true
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	bus    *MemoryBus
	taskID string
	events chan model.ProgressEvent
	closed bool
}

func (s *memorySubscription) Events() <-chan model.ProgressEvent {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return nil
	}
	delete(s.bus.subs[s.taskID], s)
	if len(s.bus.subs[s.taskID]) == 0 {
		delete(s.bus.subs, s.taskID)
	}
	close(s.events)
	s.closed = true
	return nil
}
