package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"goalline/internal/domain"
)

// Handler reacts to a published event.
type Handler func(ctx context.Context, evt domain.Event) error

type subscription struct {
	eventType domain.EventType // empty matches every type
	handler   Handler
}

// Bus delivers events synchronously to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{eventType: t, handler: h})
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe("", h)
}

// Publish calls every matching handler. A failing handler does not stop the
// remaining ones; all failures are returned joined.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.eventType != "" && s.eventType != evt.Type {
			continue
		}
		if err := s.handler(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", evt.Type, err))
		}
	}
	return errors.Join(errs...)
}
