// Package policy provides the block execution core of the policy engine:
// tree construction, typed event routing, and per-user block state.
package policy

import "errors"

// ErrCascadeDepthExceeded indicates that a re-entrant event cascade reached
// the configured depth limit. Structural edges are acyclic by construction,
// so this only happens with tag-wired loops; the reachability analyzer
// flags those at design time but they are not enforced at runtime.
var ErrCascadeDepthExceeded = errors.New("event cascade exceeded maximum depth")

// ConfigError represents a malformed block tree definition.
//
// ConfigErrors are fatal at build time and prevent the policy from
// activating. Typical causes: duplicate tags or uuids, unknown block
// types, children under a leaf block, or event wiring to an input the
// target block does not accept.
type ConfigError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// RouteError represents a failure during event routing.
//
// It wraps the error returned by a block handler after the router has
// exhausted the source block's error listeners, and surfaces which block
// and event produced the failure.
type RouteError struct {
	// Message is the human-readable error description.
	Message string

	// BlockTag identifies the block whose handler failed.
	BlockTag string

	// EventType is the routed event that triggered the failing handler.
	EventType EventType

	// Cause is the underlying handler error.
	Cause error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.BlockTag != "" {
		return "block " + e.BlockTag + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for error wrapping support.
func (e *RouteError) Unwrap() error {
	return e.Cause
}
