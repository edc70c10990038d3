package policy

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// BlockConfig is the declarative definition of one block in a policy
// workflow tree.
//
// A policy definition is a single root BlockConfig with nested children.
// Definitions are typically authored as JSON or YAML documents and parsed
// with ParseJSON / ParseYAML before being handed to Activate.
type BlockConfig struct {
	// UUID is the stable identity of the block within the policy.
	UUID string `json:"uuid" yaml:"uuid"`

	// Tag is the human-assigned name of the block, unique within the
	// policy, used for cross-references distinct from the tree structure.
	Tag string `json:"tag" yaml:"tag"`

	// BlockType selects the block's behavior from the closed kind table.
	BlockType string `json:"blockType" yaml:"blockType"`

	// Options is the opaque typed config bag. Event wiring lives under
	// the "events" key; everything else is kind-specific.
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`

	// Children are the owned child blocks, in declaration order.
	Children []BlockConfig `json:"children,omitempty" yaml:"children,omitempty"`
}

// EventLink declares one event wiring entry inside a block's options.
//
// When the block's Output fires, the router delivers an event of type
// Input to the block tagged Target. Links whose target tag does not
// exist are skipped at build time; the reachability analyzer reports
// dangling references as design-time warnings.
type EventLink struct {
	// Output is the firing output event type on the declaring block.
	Output EventType `json:"output" yaml:"output"`

	// Target is the tag of the receiving block.
	Target string `json:"target" yaml:"target"`

	// Input is the event type delivered to the target. Defaults to the
	// output type when empty.
	Input EventType `json:"input,omitempty" yaml:"input,omitempty"`

	// Disabled turns the link off without removing it from the config.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ParseJSON decodes a policy definition from JSON.
func ParseJSON(data []byte) (BlockConfig, error) {
	var cfg BlockConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return BlockConfig{}, fmt.Errorf("failed to parse policy definition: %w", err)
	}
	return cfg, nil
}

// ParseYAML decodes a policy definition from YAML.
func ParseYAML(data []byte) (BlockConfig, error) {
	var cfg BlockConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BlockConfig{}, fmt.Errorf("failed to parse policy definition: %w", err)
	}
	return cfg, nil
}

// eventLinks extracts the declared event wiring from a block's options.
//
// The "events" entry is decoded through a JSON round trip so that both
// parsed configs (JSON/YAML) and hand-built option maps are accepted.
// A missing or malformed entry yields no links; wiring is best-effort
// declarative data, not enforced structure.
func eventLinks(options map[string]interface{}) []EventLink {
	raw, ok := options["events"]
	if !ok {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	var links []EventLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil
	}

	for i := range links {
		if links[i].Input == "" {
			links[i].Input = links[i].Output
		}
	}
	return links
}

// boolOption reads a boolean option, defaulting to false when absent or
// of the wrong type.
func boolOption(options map[string]interface{}, key string) bool {
	if options == nil {
		return false
	}
	v, ok := options[key].(bool)
	return ok && v
}
