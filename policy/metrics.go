package policy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics collection for policy
// execution monitoring in production environments.
//
// Metrics exposed (all namespaced with "policyengine_"):
//
// 1. events_routed_total (counter): Events delivered through the router.
// Labels: policy_id, event_type.
// Use: Track event throughput per policy and event class.
//
// 2. handler_latency_ms (histogram): Block handler duration in milliseconds.
// Labels: block_type, status (success/error).
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000, 10000].
// Use: P50/P95/P99 latency analysis per block type.
//
// 3. state_writes_total (counter): Per-user block state writes.
// Labels: policy_id.
// Use: Monitor state churn and refresh fan-out load.
//
// 4. cascade_errors_total (counter): Handler failures during event routing.
// Labels: policy_id, block_tag.
// Use: Identify failing blocks and error hotspots.
//
// 5. action_stages_total (counter): Multi-party action stage transitions.
// Labels: action_type, stage, status.
// Use: Monitor coordinator throughput and failure rates.
//
// 6. backup_cycle_seconds (histogram): State backup cycle duration.
// Labels: policy_id, mode (full/diff).
// Use: Track backup cost and full-vs-diff distribution.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := policy.NewMetrics(registry)
//	ins, err := policy.Activate(cfg, policy.WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: all methods are safe for concurrent use.
type Metrics struct {
	eventsRouted   *prometheus.CounterVec
	handlerLatency *prometheus.HistogramVec
	stateWrites    *prometheus.CounterVec
	cascadeErrors  *prometheus.CounterVec
	actionStages   *prometheus.CounterVec
	backupCycles   *prometheus.HistogramVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers all policy execution metrics with the
// provided Prometheus registry.
//
// Parameters:
//   - registry: Prometheus registry to register metrics with (nil uses
//     prometheus.DefaultRegisterer).
//
// Returns:
//   - *Metrics: Fully initialized metrics collector.
//
// All metrics are registered with namespace "policyengine". Histograms
// use buckets sized for typical handler times (1ms to 10s).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		enabled:  true,
	}

	m.eventsRouted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policyengine",
		Name:      "events_routed_total",
		Help:      "Events delivered through the policy event router",
	}, []string{"policy_id", "event_type"})

	m.handlerLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "policyengine",
		Name:      "handler_latency_ms",
		Help:      "Block handler execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"block_type", "status"}) // status: success, error

	m.stateWrites = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policyengine",
		Name:      "state_writes_total",
		Help:      "Per-user block state writes including index updates",
	}, []string{"policy_id"})

	m.cascadeErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policyengine",
		Name:      "cascade_errors_total",
		Help:      "Handler failures surfaced during event routing",
	}, []string{"policy_id", "block_tag"})

	m.actionStages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policyengine",
		Name:      "action_stages_total",
		Help:      "Multi-party action stage transitions by outcome",
	}, []string{"action_type", "stage", "status"}) // stage: request, respond, complete, validate

	m.backupCycles = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "policyengine",
		Name:      "backup_cycle_seconds",
		Help:      "Policy state backup cycle duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"policy_id", "mode"}) // mode: full, diff

	return m
}

// RecordEventRouted increments the routed-event counter.
func (m *Metrics) RecordEventRouted(policyID, eventType string) {
	if !m.recording() {
		return
	}
	m.eventsRouted.WithLabelValues(policyID, eventType).Inc()
}

// RecordHandlerLatency records one block handler invocation.
//
// Parameters:
//   - blockType: the block's kind name.
//   - latency: handler duration.
//   - status: "success" or "error".
func (m *Metrics) RecordHandlerLatency(blockType string, latency time.Duration, status string) {
	if !m.recording() {
		return
	}
	m.handlerLatency.WithLabelValues(blockType, status).Observe(float64(latency.Milliseconds()))
}

// RecordStateWrite increments the state-write counter for a policy.
func (m *Metrics) RecordStateWrite(policyID string) {
	if !m.recording() {
		return
	}
	m.stateWrites.WithLabelValues(policyID).Inc()
}

// RecordCascadeError increments the routing-failure counter for a block.
func (m *Metrics) RecordCascadeError(policyID, blockTag string) {
	if !m.recording() {
		return
	}
	m.cascadeErrors.WithLabelValues(policyID, blockTag).Inc()
}

// RecordActionStage increments the coordinator stage counter.
//
// Parameters:
//   - actionType: the multi-party action variant.
//   - stage: "request", "respond", "complete", or "validate".
//   - status: "success", "rejected", or "error".
func (m *Metrics) RecordActionStage(actionType, stage, status string) {
	if !m.recording() {
		return
	}
	m.actionStages.WithLabelValues(actionType, stage, status).Inc()
}

// RecordBackupCycle records one backup cycle duration.
func (m *Metrics) RecordBackupCycle(policyID, mode string, duration time.Duration) {
	if !m.recording() {
		return
	}
	m.backupCycles.WithLabelValues(policyID, mode).Observe(duration.Seconds())
}

// Disable temporarily disables metric recording (useful for testing).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable().
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *Metrics) recording() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
