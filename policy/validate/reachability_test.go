package validate

import (
	"testing"

	"github.com/guardian-mrv/policyengine/policy"
)

func buildTree(t *testing.T, cfg policy.BlockConfig) *policy.Tree {
	t.Helper()
	tree, err := policy.BuildTree(cfg)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	return tree
}

func hasWarning(report Report, tag, warning string) bool {
	for _, w := range report[tag] {
		if w == warning {
			return true
		}
	}
	return false
}

func TestAnalyzeRootExemption(t *testing.T) {
	// Neither root nor orphan has an inbound tag reference; only the
	// non-root block warns.
	tree := buildTree(t, policy.BlockConfig{
		UUID: "r", Tag: "root", BlockType: policy.ContainerBlockType,
		Children: []policy.BlockConfig{
			{UUID: "o", Tag: "orphan", BlockType: policy.DocumentBlockType},
		},
	})

	report := Analyze(tree)
	if hasWarning(report, "root", WarnNoIncomingLinks) {
		t.Error("root must be exempt from the no-incoming-links warning")
	}
	if !hasWarning(report, "orphan", WarnNoIncomingLinks) {
		t.Error("non-root block without inbound references should warn")
	}
}

func TestAnalyzeLinkGraphs(t *testing.T) {
	tree := buildTree(t, policy.BlockConfig{
		UUID: "r", Tag: "root", BlockType: policy.ContainerBlockType,
		Children: []policy.BlockConfig{
			{UUID: "a", Tag: "start", BlockType: policy.DocumentBlockType,
				Options: map[string]interface{}{
					"events": []interface{}{
						map[string]interface{}{"output": "run", "target": "end"},
					},
				},
			},
			{UUID: "b", Tag: "end", BlockType: policy.DocumentBlockType},
			{UUID: "c", Tag: "island", BlockType: policy.DocumentBlockType},
		},
	})

	report := Analyze(tree)

	t.Run("tag references count as incoming and outgoing", func(t *testing.T) {
		if hasWarning(report, "end", WarnNoIncomingLinks) {
			t.Error("end is referenced by start and must not warn")
		}
		if hasWarning(report, "start", WarnNoOutgoingLinks) {
			t.Error("start references end and must not warn")
		}
	})

	t.Run("structural children count as outgoing for the parent", func(t *testing.T) {
		if hasWarning(report, "root", WarnNoOutgoingLinks) {
			t.Error("a container with children has outgoing links")
		}
	})

	t.Run("isolated blocks warn both ways", func(t *testing.T) {
		if !hasWarning(report, "island", WarnNoIncomingLinks) {
			t.Error("island should warn about incoming links")
		}
		if !hasWarning(report, "island", WarnNoOutgoingLinks) {
			t.Error("island should warn about outgoing links")
		}
	})

	t.Run("dead ends warn on outgoing only", func(t *testing.T) {
		if !hasWarning(report, "end", WarnNoOutgoingLinks) {
			t.Error("end has no outbound references and should warn")
		}
	})
}

func TestAnalyzeDeepOptionWalk(t *testing.T) {
	// Tag references nested inside lists and maps are still found.
	tree := buildTree(t, policy.BlockConfig{
		UUID: "r", Tag: "root", BlockType: policy.ContainerBlockType,
		Options: map[string]interface{}{
			"ui": map[string]interface{}{
				"panels": []interface{}{
					map[string]interface{}{"source": "buried"},
				},
			},
		},
		Children: []policy.BlockConfig{
			{UUID: "b", Tag: "buried", BlockType: policy.DocumentBlockType},
		},
	})

	report := Analyze(tree)
	if hasWarning(report, "buried", WarnNoIncomingLinks) {
		t.Error("nested tag reference should count as incoming")
	}
}

func TestAnalyzeIgnoreRules(t *testing.T) {
	tree := buildTree(t, policy.BlockConfig{
		UUID: "r", Tag: "root", BlockType: policy.ContainerBlockType,
		Children: []policy.BlockConfig{
			{UUID: "a", Tag: "quiet", BlockType: policy.DocumentBlockType},
			{UUID: "b", Tag: "loud", BlockType: policy.DocumentBlockType},
		},
	})

	report := Analyze(tree, func(blockTag, warning string) bool {
		return blockTag == "quiet"
	})

	if len(report["quiet"]) != 0 {
		t.Errorf("quiet warnings = %v, want suppressed", report["quiet"])
	}
	if len(report["loud"]) == 0 {
		t.Error("loud should still warn")
	}
}

func TestAnalyzeSelfReference(t *testing.T) {
	// A block naming its own tag in options gains no links from it.
	tree := buildTree(t, policy.BlockConfig{
		UUID: "r", Tag: "root", BlockType: policy.ContainerBlockType,
		Children: []policy.BlockConfig{
			{UUID: "a", Tag: "selfish", BlockType: policy.DocumentBlockType,
				Options: map[string]interface{}{"label": "selfish"},
			},
		},
	})

	report := Analyze(tree)
	if !hasWarning(report, "selfish", WarnNoIncomingLinks) {
		t.Error("self-reference must not count as incoming")
	}
	if !hasWarning(report, "selfish", WarnNoOutgoingLinks) {
		t.Error("self-reference must not count as outgoing")
	}
}
