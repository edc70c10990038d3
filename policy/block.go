package policy

import "context"

// HandlerFunc executes a block's reaction to one routed event.
//
// Handlers receive the activated instance (the dependency environment),
// their own node handle, and the event. They never look themselves up in
// a global registry; the node handle is threaded explicitly.
type HandlerFunc func(ctx context.Context, ins *Instance, node *Node, ev Event) error

// Kind is the static descriptor for one block type.
//
// Block kinds form a closed variant table: behavior is selected by the
// blockType string once at tree-build time via KindFor, not through
// reflection or runtime registration.
type Kind struct {
	// Type is the blockType string selecting this kind.
	Type string

	// Inputs are the event types this kind accepts. Event wiring to any
	// other input fails tree construction with a ConfigError.
	Inputs []EventType

	// Outputs are the event types this kind may fire.
	Outputs []EventType

	// AllowChildren reports whether the kind is a container. Children
	// under a leaf kind fail tree construction.
	AllowChildren bool

	// Handlers dispatches incoming events to behavior, keyed by input
	// event type.
	Handlers map[EventType]HandlerFunc
}

// AcceptsInput reports whether the kind accepts the given input event type.
func (k *Kind) AcceptsInput(t EventType) bool {
	for _, in := range k.Inputs {
		if in == t {
			return true
		}
	}
	return false
}

// Block type names of the closed kind table.
const (
	ContainerBlockType = "container"
	StepBlockType      = "step"
	DocumentBlockType  = "document"
	ActionBlockType    = "action"
	DropdownBlockType  = "dropdown"
)

// kinds is the closed dispatch table, resolved once at tree-build time.
var kinds = map[string]*Kind{
	ContainerBlockType: {
		Type:          ContainerBlockType,
		Inputs:        []EventType{RunEvent, RefreshEvent},
		Outputs:       []EventType{RunEvent, RefreshEvent, ErrorEvent},
		AllowChildren: true,
		Handlers: map[EventType]HandlerFunc{
			RunEvent:     containerRun,
			RefreshEvent: containerRefresh,
		},
	},
	StepBlockType: {
		Type:          StepBlockType,
		Inputs:        []EventType{RunEvent, StepEvent, RefreshEvent},
		Outputs:       []EventType{RunEvent, RefreshEvent, ErrorEvent},
		AllowChildren: true,
		Handlers: map[EventType]HandlerFunc{
			RunEvent:     stepRun,
			StepEvent:    stepAdvance,
			RefreshEvent: stepRefresh,
		},
	},
	DocumentBlockType: {
		Type:    DocumentBlockType,
		Inputs:  []EventType{RunEvent},
		Outputs: []EventType{RunEvent, ReleaseEvent, RefreshEvent, ErrorEvent},
		Handlers: map[EventType]HandlerFunc{
			RunEvent: documentRun,
		},
	},
	ActionBlockType: {
		Type:    ActionBlockType,
		Inputs:  []EventType{RunEvent},
		Outputs: []EventType{RunEvent, ReleaseEvent, RefreshEvent, ErrorEvent},
		Handlers: map[EventType]HandlerFunc{
			RunEvent: actionRun,
		},
	},
	DropdownBlockType: {
		Type:    DropdownBlockType,
		Inputs:  []EventType{RunEvent, DropdownEvent},
		Outputs: []EventType{DropdownEvent, RefreshEvent, ErrorEvent},
		Handlers: map[EventType]HandlerFunc{
			RunEvent:      documentRun,
			DropdownEvent: dropdownSelect,
		},
	},
}

// KindFor resolves a blockType string against the closed kind table.
func KindFor(blockType string) (*Kind, bool) {
	k, ok := kinds[blockType]
	return k, ok
}

// containerRun pushes the Run event to every child in declaration order,
// awaiting each before invoking the next.
func containerRun(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	for _, child := range node.Children {
		if err := ins.router.deliver(ctx, RunEvent, node, child, ev.User, ev.Data); err != nil {
			return err
		}
	}
	return ins.router.Trigger(ctx, RunEvent, node, ev.User, ev.Data)
}

// containerRefresh bubbles a Refresh event up to the container's listeners.
func containerRefresh(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	return ins.router.Trigger(ctx, RefreshEvent, node, ev.User, ev.Data)
}

// documentRun records the payload into the block's per-user state and
// forwards it through the Run and Release outputs. The state write itself
// fires the Refresh-class event through the router.
func documentRun(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	if err := ins.states.Set(ctx, node, ev.User, toStateData(ev.Data)); err != nil {
		return err
	}
	if err := ins.router.Trigger(ctx, RunEvent, node, ev.User, ev.Data); err != nil {
		return err
	}
	return ins.router.Trigger(ctx, ReleaseEvent, node, ev.User, ev.Data)
}

// actionRun invokes the action callback registered for the block's tag,
// records its result, and forwards it through the Run and Release outputs.
//
// Action callbacks are the glue point for the multi-party coordinator:
// the caller registers a function that composes or completes coordinator
// stages, keeping this package free of ledger concerns.
func actionRun(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	fn := ins.actionFunc(node.Tag)
	if fn == nil {
		return &RouteError{
			Message:   "no action registered for block",
			BlockTag:  node.Tag,
			EventType: ev.Type,
		}
	}

	result, err := fn(ctx, node, ev)
	if err != nil {
		return err
	}

	if err := ins.states.Set(ctx, node, ev.User, toStateData(result)); err != nil {
		return err
	}
	if err := ins.router.Trigger(ctx, RunEvent, node, ev.User, result); err != nil {
		return err
	}
	return ins.router.Trigger(ctx, ReleaseEvent, node, ev.User, result)
}

// dropdownSelect records the user's selection and forwards it through the
// Dropdown output.
func dropdownSelect(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	if err := ins.states.Set(ctx, node, ev.User, map[string]interface{}{"selected": ev.Data}); err != nil {
		return err
	}
	return ins.router.Trigger(ctx, DropdownEvent, node, ev.User, ev.Data)
}

// stepRun delivers the Run event to the currently active child only.
//
// First access for a user initializes the index to 0.
func stepRun(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	if len(node.Children) == 0 {
		return nil
	}
	idx := ins.states.index(node.UUID, ev.User)
	if idx >= len(node.Children) {
		idx = len(node.Children) - 1
	}
	return ins.router.deliver(ctx, RunEvent, node, node.Children[idx], ev.User, ev.Data)
}

// stepAdvance moves the per-user index forward when the active child
// completes. When the last child or the designated final child (options
// key "finalBlock", a child tag) completes, a cyclic step resets the
// index to 0; a non-cyclic step stays on the last child.
func stepAdvance(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	if len(node.Children) == 0 {
		return nil
	}

	idx := ins.states.index(node.UUID, ev.User)
	if idx >= len(node.Children) {
		idx = len(node.Children) - 1
	}
	active := node.Children[idx]
	if ev.SourceID != active.UUID {
		// Completion of an inactive child does not advance the step.
		return nil
	}

	finalTag, _ := node.Options["finalBlock"].(string)
	isFinal := idx == len(node.Children)-1 || (finalTag != "" && active.Tag == finalTag)

	if isFinal {
		if !boolOption(node.Options, "cyclic") {
			return nil
		}
		if err := ins.states.SetIndex(ctx, node, ev.User, 0); err != nil {
			return err
		}
		return ins.router.deliver(ctx, RunEvent, node, node.Children[0], ev.User, ev.Data)
	}

	if err := ins.states.SetIndex(ctx, node, ev.User, idx+1); err != nil {
		return err
	}
	return ins.router.deliver(ctx, RunEvent, node, node.Children[idx+1], ev.User, ev.Data)
}

// stepRefresh forwards a Refresh event only when it came from the
// currently active child.
func stepRefresh(ctx context.Context, ins *Instance, node *Node, ev Event) error {
	if len(node.Children) == 0 {
		return nil
	}
	idx := ins.states.index(node.UUID, ev.User)
	if idx >= len(node.Children) {
		idx = len(node.Children) - 1
	}
	if ev.SourceID != node.Children[idx].UUID {
		return nil
	}
	return ins.router.Trigger(ctx, RefreshEvent, node, ev.User, ev.Data)
}

// toStateData normalizes an event payload into a state blob.
//
// Map payloads are stored as-is; anything else is wrapped under a
// "payload" key so state blobs are always JSON objects.
func toStateData(data interface{}) map[string]interface{} {
	if m, ok := data.(map[string]interface{}); ok {
		return m
	}
	if data == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{"payload": data}
}
