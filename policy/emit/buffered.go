package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// post-run analysis. Events are organized by policy ID for efficient
// retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by policy ID with optional filtering
//   - Filter by block tag, user, or message
//   - Clear events by policy ID or all events
//
// Warning: this emitter stores all events in memory. For long-lived
// policies with high event volume, prefer a persistent backend or
// periodic Clear calls.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run policy ...
//	errors := emitter.HistoryWithFilter("pol-001", emit.HistoryFilter{Msg: "route_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // policyID -> events
}

// HistoryFilter specifies criteria for filtering captured events.
//
// All fields are optional; set fields are combined with AND logic.
type HistoryFilter struct {
	BlockTag string // Filter by block tag (empty = no filter)
	User     string // Filter by acting user (empty = no filter)
	Msg      string // Filter by message (empty = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by policy ID. Safe for concurrent use.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.PolicyID] = append(b.events[event.PolicyID], event)
}

// History retrieves all events for a policy in emission order.
//
// Returns a copy so callers can iterate without holding the lock.
// Returns an empty slice if no events exist for the policy.
func (b *BufferedEmitter) History(policyID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[policyID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter retrieves events for a policy matching the filter.
//
// Events are returned in emission order. An empty filter matches all events.
func (b *BufferedEmitter) HistoryWithFilter(policyID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events[policyID] {
		if filter.BlockTag != "" && event.BlockTag != filter.BlockTag {
			continue
		}
		if filter.User != "" && event.User != filter.User {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear removes all captured events for a policy.
//
// Clearing an unknown policy ID is a no-op.
func (b *BufferedEmitter) Clear(policyID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.events, policyID)
}

// ClearAll removes all captured events for every policy.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = make(map[string][]Event)
}
