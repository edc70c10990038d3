package validate

import (
	"github.com/guardian-mrv/policyengine/policy"
)

// Warning messages attached by the reachability analyzer.
const (
	WarnNoIncomingLinks = "no incoming links"
	WarnNoOutgoingLinks = "no outgoing links"
)

// IgnoreRule filters a warning before it is attached. Returning true
// suppresses the warning for that block.
type IgnoreRule func(blockTag, warning string) bool

// Report maps block tags to their attached warnings.
type Report map[string][]string

// Analyze walks a policy tree and flags unreachable and dead-end blocks.
//
// Two link graphs are built simultaneously: structural parent→child
// edges, and tag-based edges extracted by deep-walking every block's
// options for string values equal to another block's known tag.
// Structural containment counts as an outgoing link for the parent but
// does not feed a child: a block nothing wires an event to is flagged
// "no incoming links" unless it is the root, which containment alone
// cannot reach either. A block with no children and no outbound tag
// reference is flagged "no outgoing links". Warnings pass through the
// ignore rules before attachment.
//
// Analyze is a design-time linter: it only annotates, it never fails.
func Analyze(tree *policy.Tree, ignore ...IgnoreRule) Report {
	tags := tree.Tags()

	incoming := make(map[string]int)
	outgoing := make(map[string]int)

	for _, node := range tree.Nodes() {
		for range node.Children {
			outgoing[node.UUID]++
		}

		for _, ref := range tagRefs(node.Options, tags) {
			// A tag reference to itself is wiring noise, not a link.
			if ref.UUID == node.UUID {
				continue
			}
			outgoing[node.UUID]++
			incoming[ref.UUID]++
		}
	}

	report := make(Report)
	attach := func(node *policy.Node, warning string) {
		for _, rule := range ignore {
			if rule(node.Tag, warning) {
				return
			}
		}
		report[node.Tag] = append(report[node.Tag], warning)
	}

	for _, node := range tree.Nodes() {
		if incoming[node.UUID] == 0 && !node.IsRoot() {
			attach(node, WarnNoIncomingLinks)
		}
		if outgoing[node.UUID] == 0 {
			attach(node, WarnNoOutgoingLinks)
		}
	}

	return report
}

// tagRefs deep-walks an options bag and collects every string value that
// names a known block tag.
func tagRefs(options map[string]interface{}, tags map[string]*policy.Node) []*policy.Node {
	var refs []*policy.Node
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case string:
			if node, ok := tags[val]; ok {
				refs = append(refs, node)
			}
		case map[string]interface{}:
			for _, inner := range val {
				walk(inner)
			}
		case []interface{}:
			for _, inner := range val {
				walk(inner)
			}
		}
	}
	walk(options)
	return refs
}
