package policy

import (
	"context"
	"sync"

	"github.com/guardian-mrv/policyengine/policy/emit"
)

// ActionFunc is a caller-registered callback behind an action block.
//
// It receives the node handle and the incoming event, performs the
// block's domain operation (typically a multi-party coordinator stage),
// and returns the payload forwarded through the block's outputs.
type ActionFunc func(ctx context.Context, node *Node, ev Event) (interface{}, error)

// Instance is one activated policy: the immutable block tree plus its
// router, per-user state store, and observability hooks.
//
// An Instance is built atomically by Activate; a construction failure
// exposes nothing. After activation the tree and wiring are read-only
// and safely shared across concurrent user sessions. The StateStore is
// the only mutable runtime structure, and its mutations are scoped per
// (block, user).
type Instance struct {
	// PolicyID identifies the policy instance in events and metrics.
	PolicyID string

	tree    *Tree
	router  *Router
	states  *StateStore
	emitter emit.Emitter
	metrics *Metrics

	actionsMu sync.RWMutex
	actions   map[string]ActionFunc
}

// Activate builds a runnable policy instance from a declarative
// definition.
//
// Construction is atomic: tree building and event wiring either both
// succeed or Activate returns a ConfigError and no instance.
//
// Example:
//
//	cfg, _ := policy.ParseYAML(definition)
//	ins, err := policy.Activate(cfg,
//	    policy.WithPolicyID("pol-001"),
//	    policy.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	start, _ := ins.Tree().ByTag("start")
//	err = ins.Trigger(ctx, policy.RunEvent, start, "did:user:1", payload)
func Activate(cfg BlockConfig, opts ...Option) (*Instance, error) {
	config := defaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	tree, err := BuildTree(cfg)
	if err != nil {
		return nil, err
	}

	ins := &Instance{
		PolicyID: config.policyID,
		tree:     tree,
		emitter:  config.emitter,
		metrics:  config.metrics,
		actions:  make(map[string]ActionFunc),
	}

	router, err := newRouter(ins, tree, config.maxCascadeDepth)
	if err != nil {
		return nil, err
	}
	ins.router = router
	ins.states = newStateStore(ins)

	ins.emit("policy_activated", "", "", map[string]interface{}{
		"blocks": len(tree.Nodes()),
	})

	return ins, nil
}

// Tree returns the instance's immutable block tree.
func (ins *Instance) Tree() *Tree {
	return ins.tree
}

// States returns the per-user block state store.
func (ins *Instance) States() *StateStore {
	return ins.states
}

// Router returns the instance's event router.
func (ins *Instance) Router() *Router {
	return ins.router
}

// Trigger fires a block output for one user. Shorthand for
// Router().Trigger.
func (ins *Instance) Trigger(ctx context.Context, output EventType, source *Node, user string, data interface{}) error {
	return ins.router.Trigger(ctx, output, source, user, data)
}

// Dispatch delivers an input event directly to a block, entering the
// cascade from outside the wired graph. Callers use it to start a run
// on the root block or to feed user interactions (document submissions,
// dropdown selections) into the tree.
func (ins *Instance) Dispatch(ctx context.Context, input EventType, node *Node, user string, data interface{}) error {
	if !node.kind.AcceptsInput(input) {
		return &ConfigError{
			Message: "block " + node.Tag + " does not accept input event " + string(input),
			Code:    "INVALID_EVENT_INPUT",
		}
	}
	return ins.router.deliver(ctx, input, node, node, user, data)
}

// RegisterAction binds a callback to an action block by tag.
//
// Returns a ConfigError when the tag is unknown or names a block that is
// not an action block. Registering the same tag again replaces the
// previous callback.
func (ins *Instance) RegisterAction(tag string, fn ActionFunc) error {
	node, ok := ins.tree.ByTag(tag)
	if !ok {
		return &ConfigError{Message: "unknown block tag: " + tag, Code: "UNKNOWN_TAG"}
	}
	if node.BlockType != ActionBlockType {
		return &ConfigError{
			Message: "block " + tag + " is not an action block",
			Code:    "NOT_AN_ACTION_BLOCK",
		}
	}

	ins.actionsMu.Lock()
	defer ins.actionsMu.Unlock()
	ins.actions[tag] = fn
	return nil
}

// actionFunc looks up the registered callback for an action block tag.
func (ins *Instance) actionFunc(tag string) ActionFunc {
	ins.actionsMu.RLock()
	defer ins.actionsMu.RUnlock()
	return ins.actions[tag]
}

// emit publishes an observability event, if an emitter is configured.
func (ins *Instance) emit(msg, blockTag, user string, meta map[string]interface{}) {
	if ins.emitter == nil {
		return
	}
	ins.emitter.Emit(emit.Event{
		PolicyID: ins.PolicyID,
		BlockTag: blockTag,
		User:     user,
		Msg:      msg,
		Meta:     meta,
	})
}
