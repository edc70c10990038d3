package policy

// Node is one block in the runtime workflow tree.
//
// Nodes are immutable after construction and safely shared across
// concurrent user sessions; all mutable per-user data lives in the
// StateStore, keyed by (block, user).
type Node struct {
	// UUID is the stable identity of the block.
	UUID string

	// Tag is the human-assigned unique name of the block.
	Tag string

	// BlockType is the string discriminator that selected this node's kind.
	BlockType string

	// Options is the opaque typed config bag from the declarative definition.
	Options map[string]interface{}

	// Children are the owned child nodes, in declaration order.
	Children []*Node

	parent *Node
	kind   *Kind
}

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Kind returns the node's static kind descriptor.
func (n *Node) Kind() *Kind {
	return n.kind
}

// Tree is the in-memory workflow tree of one policy, with lookup tables
// by uuid and by tag.
//
// Construction is atomic: BuildTree either returns a fully wired tree or
// an error and nothing else; a partially built tree is never exposed.
type Tree struct {
	root   *Node
	byUUID map[string]*Node
	byTag  map[string]*Node
}

// BuildTree constructs the runtime tree from a declarative definition.
//
// It injects parent back-references, resolves each block's kind from the
// closed kind table, and registers uuid and tag lookups. Returns a
// ConfigError when the definition is malformed:
//   - empty uuid or tag
//   - duplicate uuid or tag
//   - unknown blockType
//   - children under a leaf kind
func BuildTree(cfg BlockConfig) (*Tree, error) {
	t := &Tree{
		byUUID: make(map[string]*Node),
		byTag:  make(map[string]*Node),
	}

	root, err := t.buildNode(cfg, nil)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

// buildNode recursively constructs one node and its children.
func (t *Tree) buildNode(cfg BlockConfig, parent *Node) (*Node, error) {
	if cfg.UUID == "" {
		return nil, &ConfigError{Message: "block uuid cannot be empty", Code: "EMPTY_UUID"}
	}
	if cfg.Tag == "" {
		return nil, &ConfigError{Message: "block tag cannot be empty: " + cfg.UUID, Code: "EMPTY_TAG"}
	}

	kind, ok := KindFor(cfg.BlockType)
	if !ok {
		return nil, &ConfigError{
			Message: "unknown block type: " + cfg.BlockType,
			Code:    "UNKNOWN_BLOCK_TYPE",
		}
	}

	if _, exists := t.byUUID[cfg.UUID]; exists {
		return nil, &ConfigError{
			Message: "duplicate block uuid: " + cfg.UUID,
			Code:    "DUPLICATE_UUID",
		}
	}
	if _, exists := t.byTag[cfg.Tag]; exists {
		return nil, &ConfigError{
			Message: "duplicate block tag: " + cfg.Tag,
			Code:    "DUPLICATE_TAG",
		}
	}

	if len(cfg.Children) > 0 && !kind.AllowChildren {
		return nil, &ConfigError{
			Message: "block type " + cfg.BlockType + " does not allow children: " + cfg.Tag,
			Code:    "CHILDREN_NOT_ALLOWED",
		}
	}

	node := &Node{
		UUID:      cfg.UUID,
		Tag:       cfg.Tag,
		BlockType: cfg.BlockType,
		Options:   cfg.Options,
		parent:    parent,
		kind:      kind,
	}

	t.byUUID[cfg.UUID] = node
	t.byTag[cfg.Tag] = node

	for _, childCfg := range cfg.Children {
		child, err := t.buildNode(childCfg, node)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node {
	return t.root
}

// ByUUID looks a node up by its stable identity.
func (t *Tree) ByUUID(uuid string) (*Node, bool) {
	n, ok := t.byUUID[uuid]
	return n, ok
}

// ByTag looks a node up by its human-assigned name.
func (t *Tree) ByTag(tag string) (*Node, bool) {
	n, ok := t.byTag[tag]
	return n, ok
}

// Tags returns the set of known tags.
//
// Used by the reachability analyzer to detect tag-based cross-references
// inside option values.
func (t *Tree) Tags() map[string]*Node {
	tags := make(map[string]*Node, len(t.byTag))
	for tag, node := range t.byTag {
		tags[tag] = node
	}
	return tags
}

// Nodes returns every node in preorder (parents before children,
// children in declaration order).
func (t *Tree) Nodes() []*Node {
	var nodes []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		nodes = append(nodes, n)
		for _, child := range n.Children {
			walk(child)
		}
	}
	if t.root != nil {
		walk(t.root)
	}
	return nodes
}
