package emit

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for deployments where event publication is not
// desired, and for tests that don't inspect events.
//
// Example usage:
//
//	emitter := emit.NewNullEmitter()
//	router := policy.NewRouter(tree, policy.WithEmitter(emitter))
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any processing.
// It is safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
