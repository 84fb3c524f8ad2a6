package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the per-consumer event queue depth. A consumer that
// falls further behind than this starts losing its oldest events.
const DefaultQueueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe dispatcher. Each
// subscriber owns a bounded queue drained by its own goroutine, so a slow
// consumer can never block the session's receive loop; when a queue
// overflows the oldest queued event is dropped.
//
// Emit dispatches against a snapshot of the registry, so subscribing or
// unsubscribing from within a handler is safe and takes effect on the
// next dispatch.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[EventType][]*subscriber
	queueSize int
	stopped   bool
	wg        sync.WaitGroup
}

type subscriber struct {
	name    string
	handler HandlerFunc
	queue   chan Event
}

// NewEventBus creates a bus with the default per-consumer queue size.
func NewEventBus() *EventBus {
	return NewEventBusWithQueueSize(DefaultQueueSize)
}

// NewEventBusWithQueueSize creates a bus with an explicit per-consumer
// queue size.
func NewEventBusWithQueueSize(queueSize int) *EventBus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &EventBus{
		subs:      make(map[EventType][]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a handler for one event type (or EventAny for all
// events). The name identifies the consumer for logging and Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan Event, eb.queueSize),
	}

	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.subs[eventType] = append(eb.subs[eventType], sub)
	eb.wg.Add(1)
	eb.mu.Unlock()

	go sub.drain(&eb.wg)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from an event type. The consumer's
// queue is closed once any in-flight dispatch has finished; already queued
// events are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[eventType]
	filtered := subs[:0]
	for _, s := range subs {
		if s.name == name {
			close(s.queue)
			continue
		}
		filtered = append(filtered, s)
	}
	eb.subs[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues an event for all subscribers of its type plus any EventAny
// subscribers. Never blocks: a full consumer queue drops its oldest
// pending event to make room.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, s := range eb.subs[event.Type] {
		s.offer(event)
	}
	if event.Type != EventAny {
		for _, s := range eb.subs[EventAny] {
			s.offer(event)
		}
	}
}

// offer enqueues without blocking, evicting the oldest queued event when
// full. Called with the bus lock held (read side), which excludes
// concurrent close from Unsubscribe/Stop.
func (s *subscriber) offer(event Event) {
	select {
	case s.queue <- event:
		return
	default:
	}

	// Queue full: evict one, then retry once. The second send can only
	// fail if another producer won the slot, in which case this event is
	// the one dropped.
	select {
	case dropped := <-s.queue:
		log.Warn().
			Str("handler", s.name).
			Str("event", string(dropped.Type)).
			Msg("slow consumer, dropped oldest queued event")
	default:
	}
	select {
	case s.queue <- event:
	default:
	}
}

// drain delivers queued events to the handler until the queue is closed.
func (s *subscriber) drain(wg *sync.WaitGroup) {
	defer wg.Done()
	for event := range s.queue {
		s.deliver(event)
	}
}

// deliver invokes the handler with panic isolation.
func (s *subscriber) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := s.handler(context.Background(), event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
}

// Stop closes every consumer queue and waits for queued events to finish
// delivering. The bus accepts no events afterwards.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	for _, subs := range eb.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	eb.subs = make(map[EventType][]*subscriber)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}
