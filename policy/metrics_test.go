package policy

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("records routed events and state writes", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := NewMetrics(registry)

		m.RecordEventRouted("pol-1", "run")
		m.RecordEventRouted("pol-1", "run")
		m.RecordStateWrite("pol-1")
		m.RecordHandlerLatency("document", 5*time.Millisecond, "success")
		m.RecordCascadeError("pol-1", "broken")
		m.RecordActionStage("topic-create", "respond", "success")
		m.RecordBackupCycle("pol-1", "full", 100*time.Millisecond)

		got := testutil.ToFloat64(m.eventsRouted.WithLabelValues("pol-1", "run"))
		if got != 2 {
			t.Errorf("events_routed_total = %v, want 2", got)
		}
		if got := testutil.ToFloat64(m.stateWrites.WithLabelValues("pol-1")); got != 1 {
			t.Errorf("state_writes_total = %v, want 1", got)
		}
		if got := testutil.ToFloat64(m.cascadeErrors.WithLabelValues("pol-1", "broken")); got != 1 {
			t.Errorf("cascade_errors_total = %v, want 1", got)
		}
	})

	t.Run("disable stops recording", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := NewMetrics(registry)

		m.Disable()
		m.RecordEventRouted("pol-1", "run")
		if got := testutil.ToFloat64(m.eventsRouted.WithLabelValues("pol-1", "run")); got != 0 {
			t.Errorf("disabled recorder counted %v events", got)
		}

		m.Enable()
		m.RecordEventRouted("pol-1", "run")
		if got := testutil.ToFloat64(m.eventsRouted.WithLabelValues("pol-1", "run")); got != 1 {
			t.Errorf("re-enabled recorder counted %v events, want 1", got)
		}
	})

	t.Run("instance records through the router", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := NewMetrics(registry)

		cfg := BlockConfig{
			UUID: "r", Tag: "root", BlockType: ContainerBlockType,
			Children: []BlockConfig{
				{UUID: "a", Tag: "doc", BlockType: DocumentBlockType},
			},
		}
		ins, err := Activate(cfg, WithPolicyID("pol-m"), WithMetrics(m))
		if err != nil {
			t.Fatalf("Activate failed: %v", err)
		}

		doc, _ := ins.Tree().ByTag("doc")
		if err := ins.Dispatch(context.Background(), RunEvent, doc, "u1", nil); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}

		if got := testutil.ToFloat64(m.stateWrites.WithLabelValues("pol-m")); got != 1 {
			t.Errorf("state_writes_total = %v, want 1", got)
		}
	})
}
