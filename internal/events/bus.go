package events

import (
	"sync"

	"github.com/google/uuid"
)

// Bus is a typed publish/subscribe fan-out with disposable subscription
// handles. Publish delivers synchronously in subscription order; handlers
// must not block.
type Bus struct {
	mu     sync.RWMutex
	order  []string
	subs   map[string]func(Event)
	closed bool
}

// Subscription is the handle returned by [Bus.Subscribe]. Cancel is
// idempotent and removes the handler from future deliveries.
type Subscription struct {
	id   string
	bus  *Bus
	once sync.Once
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]func(Event)),
	}
}

func (b *Bus) Subscribe(fn func(Event)) *Subscription {
	if b == nil || fn == nil {
		return &Subscription{}
	}

	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &Subscription{}
	}
	b.subs[id] = fn
	b.order = append(b.order, id)

	return &Subscription{id: id, bus: b}
}

func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// Close drops all subscriptions and rejects future ones. Used on Manager
// shutdown so listeners are not leaked across login/logout cycles.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string]func(Event){}
	b.order = nil
}

func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs, s.id)
		for i, id := range s.bus.order {
			if id == s.id {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
	})
}
