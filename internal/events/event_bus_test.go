package events

import (
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, eventType, sessionID string, payload any) Event {
	t.Helper()
	event, err := NewEvent(eventType, sessionID, payload)
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return event
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(NewEventStore(100))

	received := make(chan Event, 1)
	unsubscribe := bus.Subscribe(EventTypeSessionEnded, func(event Event) {
		received <- event
	})
	defer unsubscribe()

	event := mustEvent(t, EventTypeSessionEnded, "0011223344556677", SessionEndedEvent{Reason: "quit"})
	if err := bus.Publish(event); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != event.ID {
			t.Errorf("received wrong event ID: expected %s, got %s", event.ID, got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBus_TypeIsolation(t *testing.T) {
	bus := NewEventBus(nil)

	ended := make(chan Event, 1)
	bus.Subscribe(EventTypeSessionEnded, func(event Event) { ended <- event })

	if err := bus.Publish(mustEvent(t, EventTypeSessionStarted, "s1", nil)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case <-ended:
		t.Fatal("session_ended subscriber should not receive session_started")
	default:
	}
}

func TestEventBus_Wildcard(t *testing.T) {
	bus := NewEventBus(nil)

	var mu sync.Mutex
	var types []string
	bus.Subscribe(AllEvents, func(event Event) {
		mu.Lock()
		types = append(types, event.Type)
		mu.Unlock()
	})

	bus.Publish(mustEvent(t, EventTypeSessionStarted, "s1", nil))
	bus.Publish(mustEvent(t, EventTypeMessageQueued, "s1", MessageQueuedEvent{QueueID: "q"}))

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != EventTypeSessionStarted || types[1] != EventTypeMessageQueued {
		t.Errorf("unexpected wildcard deliveries: %v", types)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)

	calls := 0
	unsubscribe := bus.Subscribe(EventTypeSessionEnded, func(event Event) { calls++ })
	if bus.SubscriberCount(EventTypeSessionEnded) != 1 {
		t.Fatal("expected 1 subscriber")
	}
	unsubscribe()
	if bus.SubscriberCount(EventTypeSessionEnded) != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}

	bus.Publish(mustEvent(t, EventTypeSessionEnded, "s1", nil))
	if calls != 0 {
		t.Errorf("handler should not run after unsubscribe, ran %d times", calls)
	}
}

func TestEventBus_PublishValidation(t *testing.T) {
	bus := NewEventBus(nil)

	if err := bus.Publish(Event{ID: "x", Type: EventTypeSessionEnded}); err == nil {
		t.Error("expected error when publishing without SessionID")
	}
	if err := bus.Publish(Event{ID: "x", Type: AllEvents, SessionID: "s"}); err == nil {
		t.Error("expected error when publishing the wildcard type")
	}
}

func TestEventBus_GetEventsSince(t *testing.T) {
	bus := NewEventBus(NewEventStore(100))

	ids := make([]string, 5)
	for i := range ids {
		event := mustEvent(t, EventTypeMessageQueued, "s1", nil)
		ids[i] = event.ID
		bus.Publish(event)
	}

	events, err := bus.GetEventsSince("s1", ids[1], 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}

	nilStoreBus := NewEventBus(nil)
	events, err = nilStoreBus.GetEventsSince("s1", "", 10)
	if err != nil || len(events) != 0 {
		t.Errorf("expected empty result without store, got %v, %v", events, err)
	}
}
