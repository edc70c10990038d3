// Package emit provides pluggable observability sinks for the policy engine.
package emit

// Emitter receives and processes observability events from policy execution.
//
// Emitters enable pluggable backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry
//   - Buffering: in-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: never slow down event routing or coordinator stages
//   - Thread-safe: may be called concurrently for different users
//   - Resilient: handle backend failures without crashing the engine
type Emitter interface {
	// Emit publishes an observability event to the configured backend.
	//
	// Emit must not block policy execution and must not panic.
	// Errors are handled internally by the implementation.
	Emit(event Event)
}
