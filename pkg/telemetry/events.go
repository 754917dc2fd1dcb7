package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/modelsync/pkg/engine"
)

// EventSubscriber handles a pass event.
type EventSubscriber func(event engine.Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event engine.Event) bool

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher stopped")

// ErrBufferFull is returned by Publish when the async buffer is full.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventPublisher fans pass events out to subscribers. It implements
// engine.EventPublisher. Subscribers are called in subscription order, from
// the publishing goroutine or, in async mode, from a single worker.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan engine.Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup

	// mu protects subscribers and closed
	mu     sync.RWMutex
	closed bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

var _ engine.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg}
	if cfg.Enabled && cfg.Async {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1
		}
		ep.buffer = make(chan engine.Event, size)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep
}

// Publish delivers event to every matching subscriber. Missing IDs and
// timestamps are filled in.
func (ep *EventPublisher) Publish(ctx context.Context, event engine.Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}

	if ep.buffer == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for event := range ep.buffer {
		ep.mu.RLock()
		ep.deliver(event)
		ep.mu.RUnlock()
	}
}

// deliver must be called with mu held.
func (ep *EventPublisher) deliver(event engine.Event) {
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for buffered ones to be
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.buffer != nil {
		close(ep.buffer)
	}
	ep.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		"info":    0,
		"warning": 1,
		"error":   2,
	}
	minLevelValue := levels[minLevel]

	return func(event engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByPassID creates a filter that only allows events of one pass.
func FilterByPassID(passID string) EventFilter {
	return func(event engine.Event) bool {
		return event.PassID == passID
	}
}
