package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter(t *testing.T) {
	t.Run("history preserves emission order per policy", func(t *testing.T) {
		e := NewBufferedEmitter()
		for i := 0; i < 5; i++ {
			e.Emit(Event{PolicyID: "p1", Msg: fmt.Sprintf("msg-%d", i)})
		}
		e.Emit(Event{PolicyID: "p2", Msg: "other"})

		events := e.History("p1")
		if len(events) != 5 {
			t.Fatalf("history length = %d, want 5", len(events))
		}
		for i, ev := range events {
			if ev.Msg != fmt.Sprintf("msg-%d", i) {
				t.Errorf("events[%d] = %q", i, ev.Msg)
			}
		}
	})

	t.Run("filters combine with AND logic", func(t *testing.T) {
		e := NewBufferedEmitter()
		e.Emit(Event{PolicyID: "p1", BlockTag: "doc", User: "u1", Msg: "state_set"})
		e.Emit(Event{PolicyID: "p1", BlockTag: "doc", User: "u2", Msg: "state_set"})
		e.Emit(Event{PolicyID: "p1", BlockTag: "step", User: "u1", Msg: "state_set"})
		e.Emit(Event{PolicyID: "p1", BlockTag: "doc", User: "u1", Msg: "route_error"})

		got := e.HistoryWithFilter("p1", HistoryFilter{BlockTag: "doc", User: "u1", Msg: "state_set"})
		if len(got) != 1 {
			t.Errorf("filtered = %d events, want 1", len(got))
		}
	})

	t.Run("clear removes one policy only", func(t *testing.T) {
		e := NewBufferedEmitter()
		e.Emit(Event{PolicyID: "p1"})
		e.Emit(Event{PolicyID: "p2"})

		e.Clear("p1")
		if len(e.History("p1")) != 0 {
			t.Error("p1 history should be empty")
		}
		if len(e.History("p2")) != 1 {
			t.Error("p2 history should survive")
		}

		e.ClearAll()
		if len(e.History("p2")) != 0 {
			t.Error("ClearAll should empty everything")
		}
	})

	t.Run("concurrent emission is safe", func(t *testing.T) {
		e := NewBufferedEmitter()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					e.Emit(Event{PolicyID: "p1"})
				}
			}()
		}
		wg.Wait()

		if got := len(e.History("p1")); got != 1000 {
			t.Errorf("history = %d events, want 1000", got)
		}
	})
}
