package cart

import "time"

// EventType defines cart store event types.
type EventType string

const (
	EventLineAdded        EventType = "line_added"
	EventQuantityChanged  EventType = "quantity_changed"
	EventRemovalRequested EventType = "removal_requested"
	EventRemovalCancelled EventType = "removal_cancelled"
	EventLineRemoved      EventType = "line_removed"
	EventCleared          EventType = "cleared"
	EventRehydrated       EventType = "rehydrated"
	EventReconciled       EventType = "reconciled"
	EventStaleDropped     EventType = "stale_snapshot_dropped"
	EventSyncFailed       EventType = "sync_failed"
	EventSessionAssigned  EventType = "session_assigned"
	EventTransferred      EventType = "transferred"
	EventTransferSkipped  EventType = "transfer_skipped"
	EventOrderPlaced      EventType = "order_placed"
	EventReset            EventType = "reset"
)

// Event represents a cart store event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	UniqueID  string
	Ticket    uint64
	Error     error
}

// emit delivers to subscribers and the buffered channel. A full channel
// drops the event.
func (s *Store) emit(event Event) {
	event.Timestamp = time.Now()

	s.subsMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	closed := s.eventsClosed
	if !closed {
		select {
		case s.events <- event:
		default:
			s.logger.WithField("event", string(event.Type)).Debug("Event channel full, dropping event")
		}
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

// Events returns the event channel.
func (s *Store) Events() <-chan Event {
	return s.events
}

// Subscribe registers fn for every future event. The returned func removes it.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}
