package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(EventChatReceived, "test", func(_ context.Context, e Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	bus.Emit(Event{Type: EventChatReceived, Source: "s1", Payload: "hello"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Payload)
}

func TestWildcardReceivesAllTypes(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	received := make(chan EventType, 4)
	bus.Subscribe(EventAny, "wildcard", func(_ context.Context, e Event) error {
		received <- e.Type
		return nil
	})

	bus.Emit(Event{Type: EventChatReceived})
	bus.Emit(Event{Type: EventLobbyJoined})

	var types []EventType
	for i := 0; i < 2; i++ {
		select {
		case et := <-received:
			types = append(types, et)
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber missed an event")
		}
	}
	assert.ElementsMatch(t, []EventType{EventChatReceived, EventLobbyJoined}, types)
}

func TestSlowConsumerDropsOldest(t *testing.T) {
	bus := NewEventBusWithQueueSize(2)
	defer bus.Stop()

	block := make(chan struct{})
	received := make(chan int, 16)

	bus.Subscribe(EventChatReceived, "slow", func(_ context.Context, e Event) error {
		<-block
		received <- e.Payload.(int)
		return nil
	})

	// First event occupies the handler, the rest fill and overflow the
	// two-slot queue.
	for i := 0; i < 6; i++ {
		bus.Emit(Event{Type: EventChatReceived, Payload: i})
	}
	close(block)

	var got []int
collect:
	for {
		select {
		case n := <-received:
			got = append(got, n)
		case <-time.After(500 * time.Millisecond):
			break collect
		}
	}

	require.NotEmpty(t, got, "no events delivered at all")
	assert.Contains(t, got, 5, "the newest event must survive the overflow")
	assert.NotContains(t, got, 1, "the oldest queued event must be dropped")
	assert.Less(t, len(got), 6, "a two-slot queue cannot deliver everything")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	received := make(chan struct{}, 4)
	bus.Subscribe(EventLobbyJoined, "sub", func(_ context.Context, _ Event) error {
		received <- struct{}{}
		return nil
	})
	require.Equal(t, 1, bus.HandlerCount(EventLobbyJoined))

	bus.Unsubscribe(EventLobbyJoined, "sub")
	assert.Equal(t, 0, bus.HandlerCount(EventLobbyJoined))

	bus.Emit(Event{Type: EventLobbyJoined})
	select {
	case <-received:
		t.Fatal("unsubscribed handler still received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	delivered := make(chan struct{}, 1)
	bus.Subscribe(EventChatReceived, "panicky", func(_ context.Context, _ Event) error {
		panic("boom")
	})
	bus.Subscribe(EventChatReceived, "healthy", func(_ context.Context, _ Event) error {
		delivered <- struct{}{}
		return nil
	})

	bus.Emit(Event{Type: EventChatReceived})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("panic in one handler starved the other")
	}
}

func TestStopWaitsForQueuedEvents(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventChatReceived, "counter", func(_ context.Context, _ Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		bus.Emit(Event{Type: EventChatReceived})
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count, "Stop must drain queued events before returning")
}
