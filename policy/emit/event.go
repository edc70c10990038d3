package emit

// Event represents an observability event emitted during policy execution.
//
// Events provide insight into engine behavior:
//   - Block event routing (trigger, cascade, error)
//   - Per-user state writes
//   - Coordinator stage transitions
//   - Backup cycle progress and propagation failures
//
// Events are fire-and-forget: the core never awaits or depends on delivery.
// They are published to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer for UI polling or post-run analysis
type Event struct {
	// PolicyID identifies the policy instance that emitted this event.
	PolicyID string

	// BlockTag identifies which block the event relates to.
	// Empty string for policy-level events (backup cycles, activation).
	BlockTag string

	// User is the acting identity for user-scoped events.
	// Empty string for system-level events.
	User string

	// Msg is a short machine-oriented description of the event,
	// e.g. "event_routed", "state_set", "action_responded", "backup_saved".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "event_type": routed policy event type
	//   - "target_tag": destination block of a routed event
	//   - "error": error details
	//   - "action_uuid": coordinator record identity
	//   - "diff_size": number of changed documents in a backup diff
	Meta map[string]interface{}
}
