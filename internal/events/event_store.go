package events

import (
	"container/list"
	"sync"
	"time"
)

// InMemoryEventStore implements EventStore using a bounded in-memory buffer.
type InMemoryEventStore struct {
	mu            sync.RWMutex
	events        *list.List                 // oldest at front
	eventIndex    map[string]*list.Element   // eventID -> list element
	sessionEvents map[string][]*list.Element // sessionID -> elements in publish order
	maxSize       int
}

// NewEventStore creates a new InMemoryEventStore with the given buffer size.
func NewEventStore(maxSize int) *InMemoryEventStore {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &InMemoryEventStore{
		events:        list.New(),
		eventIndex:    make(map[string]*list.Element),
		sessionEvents: make(map[string][]*list.Element),
		maxSize:       maxSize,
	}
}

// Store saves an event for later replay.
// If the buffer is full, the oldest event is removed.
func (es *InMemoryEventStore) Store(event Event) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.events.Len() >= es.maxSize {
		es.removeElementLocked(es.events.Front())
	}

	elem := es.events.PushBack(event)
	es.eventIndex[event.ID] = elem
	es.sessionEvents[event.SessionID] = append(es.sessionEvents[event.SessionID], elem)

	return nil
}

// GetSince returns events after the given event ID.
// If eventID is empty, returns the most recent events up to limit.
// An unknown eventID yields an empty result; the caller should refresh.
func (es *InMemoryEventStore) GetSince(sessionID string, eventID string, limit int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]Event, 0)

	if eventID == "" {
		if sessionID != "" {
			elems := es.sessionEvents[sessionID]
			start := 0
			if len(elems) > limit {
				start = len(elems) - limit
			}
			for _, elem := range elems[start:] {
				result = append(result, elem.Value.(Event))
			}
			return result, nil
		}

		elem := es.events.Back()
		for i := 1; i < limit && elem != nil && elem.Prev() != nil; i++ {
			elem = elem.Prev()
		}
		for ; elem != nil; elem = elem.Next() {
			result = append(result, elem.Value.(Event))
		}
		return result, nil
	}

	startElem, exists := es.eventIndex[eventID]
	if !exists {
		return result, nil
	}

	for elem := startElem.Next(); elem != nil && len(result) < limit; elem = elem.Next() {
		event := elem.Value.(Event)
		if sessionID == "" || event.SessionID == sessionID {
			result = append(result, event)
		}
	}

	return result, nil
}

// Cleanup removes events older than the given duration.
func (es *InMemoryEventStore) Cleanup(olderThan time.Duration) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for es.events.Len() > 0 {
		front := es.events.Front()
		if front.Value.(Event).Timestamp.After(cutoff) {
			break
		}
		es.removeElementLocked(front)
	}

	return nil
}

// removeElementLocked removes an element from all indexes. Must be called with lock held.
func (es *InMemoryEventStore) removeElementLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	event := elem.Value.(Event)

	es.events.Remove(elem)
	delete(es.eventIndex, event.ID)

	elems := es.sessionEvents[event.SessionID]
	for i, e := range elems {
		if e == elem {
			es.sessionEvents[event.SessionID] = append(elems[:i], elems[i+1:]...)
			break
		}
	}
	if len(es.sessionEvents[event.SessionID]) == 0 {
		delete(es.sessionEvents, event.SessionID)
	}
}

// Len returns the number of events in the store.
func (es *InMemoryEventStore) Len() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.events.Len()
}

// LenForSession returns the number of stored events for one session.
func (es *InMemoryEventStore) LenForSession(sessionID string) int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.sessionEvents[sessionID])
}
