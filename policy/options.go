package policy

import (
	"fmt"

	"github.com/guardian-mrv/policyengine/policy/emit"
)

// DefaultMaxCascadeDepth bounds re-entrant event cascades. A well-formed
// policy never approaches this; hitting it indicates an event loop in the
// wiring.
const DefaultMaxCascadeDepth = 256

// instanceConfig holds configurable activation parameters.
type instanceConfig struct {
	policyID        string
	emitter         emit.Emitter
	metrics         *Metrics
	maxCascadeDepth int
}

// defaultConfig returns the activation defaults: a null emitter, no
// metrics, and the default cascade depth bound.
func defaultConfig() instanceConfig {
	return instanceConfig{
		emitter:         emit.NewNullEmitter(),
		maxCascadeDepth: DefaultMaxCascadeDepth,
	}
}

// Option configures an Instance during Activate.
type Option func(*instanceConfig) error

// WithPolicyID sets the identifier attached to every emitted event and
// metric sample for this instance.
func WithPolicyID(id string) Option {
	return func(c *instanceConfig) error {
		if id == "" {
			return fmt.Errorf("policy id cannot be empty")
		}
		c.policyID = id
		return nil
	}
}

// WithEmitter sets the observability emitter. Pass nil to disable
// emission entirely.
func WithEmitter(e emit.Emitter) Option {
	return func(c *instanceConfig) error {
		c.emitter = e
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics recorder to the instance.
func WithMetrics(m *Metrics) Option {
	return func(c *instanceConfig) error {
		c.metrics = m
		return nil
	}
}

// WithMaxCascadeDepth overrides the cascade depth bound.
func WithMaxCascadeDepth(depth int) Option {
	return func(c *instanceConfig) error {
		if depth < 1 {
			return fmt.Errorf("max cascade depth must be at least 1, got %d", depth)
		}
		c.maxCascadeDepth = depth
		return nil
	}
}
