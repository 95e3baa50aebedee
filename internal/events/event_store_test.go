package events

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// For any sequence of stored events and any replay point, GetSince returns
// exactly the later events of that session in publish order.
func TestEventStore_ReplayProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bufferSize := rapid.IntRange(10, 100).Draw(t, "bufferSize")
		numEvents := rapid.IntRange(1, bufferSize-1).Draw(t, "numEvents")
		sessionID := rapid.StringMatching(`[0-9a-f]{16}`).Draw(t, "sessionID")

		store := NewEventStore(bufferSize)
		ids := make([]string, numEvents)
		for i := 0; i < numEvents; i++ {
			event, err := NewEvent(EventTypeMessageQueued, sessionID, nil)
			if err != nil {
				t.Fatalf("failed to build event: %v", err)
			}
			ids[i] = event.ID
			if err := store.Store(event); err != nil {
				t.Fatalf("failed to store event: %v", err)
			}
		}

		from := rapid.IntRange(0, numEvents-1).Draw(t, "from")
		replayed, err := store.GetSince(sessionID, ids[from], 100)
		if err != nil {
			t.Fatalf("failed to replay: %v", err)
		}

		if len(replayed) != numEvents-from-1 {
			t.Fatalf("expected %d replayed events, got %d", numEvents-from-1, len(replayed))
		}
		for i, event := range replayed {
			if event.ID != ids[from+1+i] {
				t.Errorf("event %d: expected ID %s, got %s", i, ids[from+1+i], event.ID)
			}
		}
	})
}

func TestEventStore_BoundedBuffer(t *testing.T) {
	store := NewEventStore(3)

	var first Event
	for i := 0; i < 5; i++ {
		event, _ := NewEvent(EventTypeSessionStarted, "s1", nil)
		if i == 0 {
			first = event
		}
		store.Store(event)
	}

	if store.Len() != 3 {
		t.Errorf("expected 3 events, got %d", store.Len())
	}
	if store.LenForSession("s1") != 3 {
		t.Errorf("expected 3 events for session, got %d", store.LenForSession("s1"))
	}

	// The evicted event is no longer a valid replay point
	events, _ := store.GetSince("s1", first.ID, 10)
	if len(events) != 0 {
		t.Errorf("expected no events after evicted id, got %d", len(events))
	}
}

func TestEventStore_RecentAcrossSessions(t *testing.T) {
	store := NewEventStore(100)
	for _, sid := range []string{"a", "b", "a", "c"} {
		event, _ := NewEvent(EventTypeSessionStarted, sid, nil)
		store.Store(event)
	}

	all, _ := store.GetSince("", "", 3)
	if len(all) != 3 {
		t.Fatalf("expected 3 most recent events, got %d", len(all))
	}
	if all[0].SessionID != "b" || all[2].SessionID != "c" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].SessionID, all[1].SessionID, all[2].SessionID)
	}

	onlyA, _ := store.GetSince("a", "", 10)
	if len(onlyA) != 2 {
		t.Errorf("expected 2 events for session a, got %d", len(onlyA))
	}
}

func TestEventStore_Cleanup(t *testing.T) {
	store := NewEventStore(10)

	old, _ := NewEvent(EventTypeSessionStarted, "s1", nil)
	old.Timestamp = time.Now().Add(-time.Hour)
	store.Store(old)

	fresh, _ := NewEvent(EventTypeSessionEnded, "s1", nil)
	store.Store(fresh)

	if err := store.Cleanup(time.Minute); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 event after cleanup, got %d", store.Len())
	}
}
