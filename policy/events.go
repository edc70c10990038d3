package policy

// EventType identifies the kind of a routed policy event.
//
// The set is closed: block kinds declare which types they accept as
// inputs and produce as outputs, and the tree builder validates wiring
// against those declarations.
type EventType string

// Policy event types.
const (
	// RunEvent drives block execution with a payload of documents.
	RunEvent EventType = "RunEvent"

	// RefreshEvent tells dependent blocks to re-poll their state.
	// Every per-user state write fires one to the owning block's
	// listeners.
	RefreshEvent EventType = "RefreshEvent"

	// ReleaseEvent signals that a block finished its work, letting
	// step containers advance to the next child.
	ReleaseEvent EventType = "ReleaseEvent"

	// ErrorEvent carries a handler failure to the source block's
	// error listeners.
	ErrorEvent EventType = "ErrorEvent"

	// DropdownEvent carries a user selection through dropdown blocks.
	DropdownEvent EventType = "DropdownEvent"

	// StepEvent advances a step container's per-user index.
	StepEvent EventType = "StepEvent"
)

// Event is a transient message produced when a block's output fires.
//
// Events are created, routed synchronously to zero or more listeners,
// and discarded; they are never persisted.
type Event struct {
	// Type is the event kind as seen by the receiving block.
	Type EventType

	// SourceID is the uuid of the block whose output fired.
	SourceID string

	// TargetID is the uuid of the receiving block.
	TargetID string

	// User is the acting identity the cascade runs for.
	User string

	// Data is the payload, typically one or more documents.
	Data interface{}
}
