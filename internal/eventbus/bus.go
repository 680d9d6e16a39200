// Package eventbus implements the typed publish/subscribe fabric of the
// core: non-blocking publish into a bounded queue, a single dispatcher,
// and isolated per-subscriber delivery.
package eventbus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/pkg/types"
)

// ErrSubscriberNotRegistered is returned by Subscribe for a subscriber the
// extension registry does not know about.
var ErrSubscriberNotRegistered = errors.New("subscriber not registered by any extension provider")

// ErrBusClosed is returned by Subscribe after Shutdown.
var ErrBusClosed = errors.New("event bus is shut down")

// Subscriber handles events from the bus. Priority orders the fan-out
// launch sequence within one event, higher first; no happens-before is
// promised between two subscribers of the same event.
type Subscriber interface {
	Name() string
	Priority() int
	// Kinds returns the event kinds this subscriber wants. Including
	// types.KindAll delivers every event.
	Kinds() []types.EventKind
	Handle(ctx context.Context, evt types.Event)
}

// Config tunes the bus.
type Config struct {
	// QueueCapacity bounds the in-memory queue. When the queue is full the
	// bus drops the oldest pending event; the drop is counted and logged.
	// This drop-oldest overflow policy is the one the core declares.
	QueueCapacity int

	// DrainTimeout bounds how long Shutdown waits for in-flight handlers.
	DrainTimeout time.Duration

	Logger  *zap.Logger
	Metrics metrics.Metrics
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	return nil
}

// Bus routes published events to subscribers.
type Bus struct {
	logger  *zap.Logger
	metrics metrics.Metrics

	mu     sync.RWMutex
	subs   map[types.EventKind][]Subscriber
	closed bool

	registry *Registry
	queue    chan types.Event
	done     chan struct{}

	handlers     sync.WaitGroup
	drainTimeout time.Duration
}

// New creates and starts a bus. The dispatcher goroutine runs until
// Shutdown.
func New(registry *Registry, cfg Config) (*Bus, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bus{
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		subs:         make(map[types.EventKind][]Subscriber),
		registry:     registry,
		queue:        make(chan types.Event, cfg.QueueCapacity),
		done:         make(chan struct{}),
		drainTimeout: cfg.DrainTimeout,
	}
	go b.dispatch()
	return b, nil
}

// Subscribe adds a subscriber for its declared kinds. Only subscribers
// known to the extension registry are accepted.
func (b *Bus) Subscribe(sub Subscriber) error {
	if !b.registry.IsRegistered(sub) {
		return ErrSubscriberNotRegistered
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	kinds := sub.Kinds()
	if len(kinds) == 0 {
		kinds = []types.EventKind{types.KindAll}
	}
	for _, kind := range kinds {
		b.subs[kind] = append(b.subs[kind], sub)
	}
	return nil
}

// Unsubscribe removes a subscriber from every kind it was attached to.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, list := range b.subs {
		filtered := list[:0]
		for _, s := range list {
			if s != sub {
				filtered = append(filtered, s)
			}
		}
		b.subs[kind] = filtered
	}
}

// Publish enqueues the event and returns immediately. When the queue is
// full the oldest pending event is dropped to make room. The read lock is
// held across the send: Shutdown closes the queue under the write lock,
// so no send can race the close.
func (b *Bus) Publish(evt types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.queue <- evt:
	default:
		// Queue full: drop the oldest pending event, then retry once.
		select {
		case old := <-b.queue:
			b.metrics.EventDropped()
			b.logger.Warn("event queue overflow, dropping oldest event",
				zap.String("dropped_event_id", old.Header.EventID),
				zap.String("dropped_kind", string(old.Kind())))
		default:
		}
		select {
		case b.queue <- evt:
		default:
			b.metrics.EventDropped()
			b.logger.Warn("event queue overflow, dropping event",
				zap.String("event_id", evt.Header.EventID),
				zap.String("kind", string(evt.Kind())))
			return
		}
	}

	b.metrics.EventPublished(string(evt.Kind()))
	b.metrics.EventQueueDepth(len(b.queue))
}

// dispatch consumes the queue in publish order and fans each event out to
// all matching subscribers, each in its own goroutine. The dispatcher
// waits for an event's handlers before taking the next event, so the bus
// as a whole processes events in publish order while subscribers of one
// event run concurrently with each other.
func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.queue {
		b.metrics.EventQueueDepth(len(b.queue))
		var wg sync.WaitGroup
		for _, sub := range b.matching(evt.Kind()) {
			wg.Add(1)
			b.handlers.Add(1)
			go func(s Subscriber) {
				defer wg.Done()
				b.deliver(s, evt)
			}(sub)
		}
		wg.Wait()
	}
}

// matching resolves subscribers for the exact kind plus the universal
// kind, ordered by priority descending.
func (b *Bus) matching(kind types.EventKind) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]Subscriber, 0, len(b.subs[kind])+len(b.subs[types.KindAll]))
	matched = append(matched, b.subs[kind]...)
	if kind != types.KindAll {
		matched = append(matched, b.subs[types.KindAll]...)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() > matched[j].Priority()
	})
	return matched
}

// deliver runs one subscriber in isolation: a panic is logged and
// swallowed so neither the publisher nor other subscribers are affected.
func (b *Bus) deliver(sub Subscriber, evt types.Event) {
	defer b.handlers.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("subscriber", sub.Name()),
				zap.String("event_id", evt.Header.EventID),
				zap.String("kind", string(evt.Kind())),
				zap.Any("panic", r))
		}
	}()
	sub.Handle(context.Background(), evt)
}

// Shutdown stops accepting events, drains the queue and waits up to the
// drain timeout for in-flight handlers.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	finished := make(chan struct{})
	go func() {
		b.handlers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(b.drainTimeout):
		b.logger.Warn("event bus drain timed out with handlers in flight")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
