package policy

import (
	"context"
	"time"
)

// cascadeDepthKey carries the current cascade depth through re-entrant
// Trigger calls.
type cascadeDepthKey struct{}

func cascadeDepth(ctx context.Context) int {
	depth, _ := ctx.Value(cascadeDepthKey{}).(int)
	return depth
}

// linkKey identifies the listener list for one (source, output) pair.
type linkKey struct {
	source string
	output EventType
}

// wiredListener is one statically wired event target.
type wiredListener struct {
	target *Node
	input  EventType
}

// Router propagates typed events from a block's output to its statically
// wired listeners.
//
// Wiring is resolved once at activation time from two sources:
//   - explicit links declared under each block's options "events" key
//     (target tag references)
//   - structural links injected for step containers: each child's
//     Release output feeds the step's StepEvent input, and each child's
//     Refresh output feeds the step's Refresh input
//
// Delivery is synchronous and in declaration order: the router awaits
// each listener's handler before invoking the next, on the calling
// goroutine. There is no implicit parallel fan-out; declaration-order
// side effects on shared per-user state are preserved.
type Router struct {
	ins      *Instance
	links    map[linkKey][]wiredListener
	maxDepth int
}

// newRouter builds the wiring tables for an activated instance.
//
// Links to unknown target tags are skipped; dangling tag references are
// a design-time concern for the reachability analyzer, not a runtime
// failure. Links to an input the target kind does not accept fail with a
// ConfigError, since that is a malformed declaration rather than a
// dangling reference.
func newRouter(ins *Instance, tree *Tree, maxDepth int) (*Router, error) {
	r := &Router{
		ins:      ins,
		links:    make(map[linkKey][]wiredListener),
		maxDepth: maxDepth,
	}

	for _, node := range tree.Nodes() {
		for _, link := range eventLinks(node.Options) {
			if link.Disabled {
				continue
			}
			target, ok := tree.ByTag(link.Target)
			if !ok {
				continue
			}
			if !target.kind.AcceptsInput(link.Input) {
				return nil, &ConfigError{
					Message: "block " + target.Tag + " does not accept input event " + string(link.Input),
					Code:    "INVALID_EVENT_INPUT",
				}
			}
			key := linkKey{source: node.UUID, output: link.Output}
			r.links[key] = append(r.links[key], wiredListener{target: target, input: link.Input})
		}

		if node.kind.Type == StepBlockType {
			for _, child := range node.Children {
				r.links[linkKey{source: child.UUID, output: ReleaseEvent}] = append(
					r.links[linkKey{source: child.UUID, output: ReleaseEvent}],
					wiredListener{target: node, input: StepEvent})
				r.links[linkKey{source: child.UUID, output: RefreshEvent}] = append(
					r.links[linkKey{source: child.UUID, output: RefreshEvent}],
					wiredListener{target: node, input: RefreshEvent})
			}
		}
	}

	return r, nil
}

// Trigger fires one of a block's outputs, delivering events to all wired
// listeners synchronously in declaration order.
//
// A listener handler may itself call Trigger (cascading events); cascades
// are bounded by the configured maximum depth and fail with
// ErrCascadeDepthExceeded beyond it.
//
// Error semantics: when a handler fails, the router redirects the failure
// to the source block's Error-class listeners if any are wired, otherwise
// the error propagates to the caller of the top-level Trigger.
func (r *Router) Trigger(ctx context.Context, output EventType, source *Node, user string, data interface{}) error {
	depth := cascadeDepth(ctx)
	if depth >= r.maxDepth {
		return ErrCascadeDepthExceeded
	}
	ctx = context.WithValue(ctx, cascadeDepthKey{}, depth+1)

	for _, listener := range r.links[linkKey{source: source.UUID, output: output}] {
		ev := Event{
			Type:     listener.input,
			SourceID: source.UUID,
			TargetID: listener.target.UUID,
			User:     user,
			Data:     data,
		}
		if err := r.invoke(ctx, ev, listener.target); err != nil {
			return r.redirectError(ctx, output, source, user, err)
		}
	}
	return nil
}

// Listeners returns the wired targets for one (source, output) pair in
// declaration order. Used by design-time tooling and tests.
func (r *Router) Listeners(source *Node, output EventType) []*Node {
	wired := r.links[linkKey{source: source.UUID, output: output}]
	targets := make([]*Node, len(wired))
	for i, l := range wired {
		targets[i] = l.target
	}
	return targets
}

// deliver routes an event along a structural parent→child edge, outside
// the wired listener tables. Container and step blocks use it to push
// Run events into their children.
func (r *Router) deliver(ctx context.Context, input EventType, source, target *Node, user string, data interface{}) error {
	depth := cascadeDepth(ctx)
	if depth >= r.maxDepth {
		return ErrCascadeDepthExceeded
	}
	ctx = context.WithValue(ctx, cascadeDepthKey{}, depth+1)

	ev := Event{
		Type:     input,
		SourceID: source.UUID,
		TargetID: target.UUID,
		User:     user,
		Data:     data,
	}
	return r.invoke(ctx, ev, target)
}

// invoke runs the target's handler for the event and records metrics
// and observability events.
func (r *Router) invoke(ctx context.Context, ev Event, target *Node) error {
	handler, ok := target.kind.Handlers[ev.Type]
	if !ok {
		// Inputs without handlers are accepted but inert (e.g. Refresh
		// wiring used purely for UI re-poll notification).
		return nil
	}

	start := time.Now()
	err := handler(ctx, r.ins, target, ev)

	status := "success"
	if err != nil {
		status = "error"
	}
	if r.ins.metrics != nil {
		r.ins.metrics.RecordEventRouted(r.ins.PolicyID, string(ev.Type))
		r.ins.metrics.RecordHandlerLatency(target.BlockType, time.Since(start), status)
	}
	r.ins.emit("event_routed", target.Tag, ev.User, map[string]interface{}{
		"event_type": string(ev.Type),
		"status":     status,
	})

	return err
}

// redirectError surfaces a handler failure to the source block's Error
// listeners when any are wired; otherwise the error propagates upward.
func (r *Router) redirectError(ctx context.Context, output EventType, source *Node, user string, err error) error {
	if r.ins.metrics != nil {
		r.ins.metrics.RecordCascadeError(r.ins.PolicyID, source.Tag)
	}
	r.ins.emit("route_error", source.Tag, user, map[string]interface{}{
		"event_type": string(output),
		"error":      err.Error(),
	})

	// Avoid recursing into error redirection for failures that happened
	// while already delivering an Error event.
	if output != ErrorEvent && len(r.links[linkKey{source: source.UUID, output: ErrorEvent}]) > 0 {
		payload := map[string]interface{}{"error": err.Error()}
		return r.Trigger(ctx, ErrorEvent, source, user, payload)
	}

	return &RouteError{
		Message:   "handler failed during event routing",
		BlockTag:  source.Tag,
		EventType: output,
		Cause:     err,
	}
}
