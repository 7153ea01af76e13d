package hooks

import (
	"context"
	"errors"
	"sync"
	"time"
)

type (
	// Bus publishes Envelopes to registered Subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Unregister operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error: this lets a critical
	// subscriber (e.g. message persistence) halt the run on failure, per
	// spec §7's "StorageError on message append: fatal".
	Bus interface {
		// Publish delivers env to every currently registered subscriber, in
		// registration order, stopping at the first error.
		Publish(ctx context.Context, env Envelope) error
		// Register adds sub to the bus and returns a Subscription that can be
		// closed to unregister it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, env Envelope) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, env Envelope) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		// Close removes the subscriber; idempotent and safe to call more
		// than once.
		Close() error
	}
)

// HandleEvent calls fn.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, env Envelope) error {
	return fn(ctx, env)
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]Subscriber
	order       []*subscription
}

type subscription struct {
	bus  *bus
	once sync.Once
}

// NewBus constructs an in-memory event bus.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

func (b *bus) Publish(ctx context.Context, env Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	b.mu.RLock()
	order := make([]*subscription, len(b.order))
	copy(order, b.order)
	b.mu.RUnlock()

	for _, s := range order {
		b.mu.RLock()
		sub, ok := b.subscribers[s]
		b.mu.RUnlock()
		if !ok {
			continue // unregistered since snapshot
		}
		if err := sub.HandleEvent(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		for i, o := range s.bus.order {
			if o == s {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
