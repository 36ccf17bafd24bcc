// Package bus is the in-process typed event bus that connects the chat path
// to the background analysis pipeline.
//
// Publish is a synchronous fan-out: every current subscriber of the event's
// type runs in the publisher's goroutine, in subscription order. Handlers
// that need to do slow work hand it off themselves (the engine enqueues onto
// its worker pool). Handler errors and panics are logged and counted; they
// never reach the publisher or sibling handlers.
package bus

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/observe"
)

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler func(context.Context, Event) error
}

// Bus is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[reflect.Type]map[SubscriptionID]subscription
	counter atomic.Uint64

	metrics *observe.Metrics
	logger  zerolog.Logger
}

// New creates an empty bus. metrics may be nil.
func New(metrics *observe.Metrics, logger zerolog.Logger) *Bus {
	return &Bus{
		subs:    make(map[reflect.Type]map[SubscriptionID]subscription),
		metrics: metrics,
		logger:  logger.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers handler for events of type E.
func Subscribe[E Event](b *Bus, handler func(context.Context, E) error) SubscriptionID {
	id := SubscriptionID(b.counter.Add(1))
	key := reflect.TypeFor[E]()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[SubscriptionID]subscription)
	}
	b.subs[key][id] = subscription{
		id: id,
		handler: func(ctx context.Context, ev Event) error {
			return handler(ctx, ev.(E))
		},
	}
	return id
}

// Unsubscribe removes a subscription. It reports whether id was registered.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subs {
		if _, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, key)
			}
			return true
		}
	}
	return false
}

// Publish delivers ev to every subscriber of its type and returns the number
// of handlers that failed.
func (b *Bus) Publish(ctx context.Context, ev Event) int {
	handlers := b.snapshot(reflect.TypeOf(ev))

	failed := 0
	for _, s := range handlers {
		if err := b.invoke(ctx, s, ev); err != nil {
			failed++
			b.metrics.RecordBusFailure(ctx, ev.EventName())
			b.logger.Error().
				Err(err).
				Str("event", ev.EventName()).
				Uint64("subscription", uint64(s.id)).
				Msg("event handler failed")
		}
	}
	return failed
}

// SubscriberCount returns the number of handlers registered for E.
func SubscriberCount[E Event](b *Bus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[E]()])
}

func (b *Bus) snapshot(key reflect.Type) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subs[key]
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (b *Bus) invoke(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.handler(ctx, ev)
}
