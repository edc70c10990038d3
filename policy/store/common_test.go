package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

// runStoreTests exercises the Store contract shared by every backend.
func runStoreTests(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("save and find round trip", func(t *testing.T) {
		doc := Document{ID: "a1", Fields: map[string]interface{}{
			"status": "REQUESTED",
			"owner":  "did:user:1",
			"count":  3,
		}}
		if err := s.Save(ctx, "actions", doc); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := s.FindOne(ctx, "actions", Filter{"id": "a1"})
		if err != nil {
			t.Fatalf("FindOne failed: %v", err)
		}
		if got.Fields["status"] != "REQUESTED" || got.Fields["owner"] != "did:user:1" {
			t.Errorf("fields = %v", got.Fields)
		}
		// Numbers come back as float64 after the JSON round trip.
		if got.Fields["count"] != float64(3) {
			t.Errorf("count = %v (%T), want 3", got.Fields["count"], got.Fields["count"])
		}
	})

	t.Run("find filters with AND logic in insertion order", func(t *testing.T) {
		for _, doc := range []Document{
			{ID: "m1", Fields: map[string]interface{}{"policy": "p1", "status": "open"}},
			{ID: "m2", Fields: map[string]interface{}{"policy": "p1", "status": "closed"}},
			{ID: "m3", Fields: map[string]interface{}{"policy": "p2", "status": "open"}},
			{ID: "m4", Fields: map[string]interface{}{"policy": "p1", "status": "open"}},
		} {
			if err := s.Save(ctx, "rows", doc); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}

		docs, err := s.Find(ctx, "rows", Filter{"policy": "p1", "status": "open"})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 2 || docs[0].ID != "m1" || docs[1].ID != "m4" {
			t.Errorf("docs = %v", docs)
		}

		all, err := s.Find(ctx, "rows", Filter{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("empty filter returned %d docs, want 4", len(all))
		}
	})

	t.Run("missing documents report ErrNotFound", func(t *testing.T) {
		if _, err := s.FindOne(ctx, "actions", Filter{"id": "ghost"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindOne error = %v, want ErrNotFound", err)
		}
		err := s.UpdateFields(ctx, "actions", "ghost", map[string]interface{}{"x": 1})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateFields error = %v, want ErrNotFound", err)
		}
	})

	t.Run("save replaces by id", func(t *testing.T) {
		if err := s.Save(ctx, "actions", Document{ID: "r1", Fields: map[string]interface{}{"v": "old", "keep": true}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := s.Save(ctx, "actions", Document{ID: "r1", Fields: map[string]interface{}{"v": "new"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := s.FindOne(ctx, "actions", Filter{"id": "r1"})
		if err != nil {
			t.Fatalf("FindOne failed: %v", err)
		}
		if got.Fields["v"] != "new" {
			t.Errorf("v = %v, want new", got.Fields["v"])
		}
		if _, stale := got.Fields["keep"]; stale {
			t.Error("Save must fully replace the document, not merge")
		}
	})

	t.Run("update merges fields", func(t *testing.T) {
		if err := s.Save(ctx, "actions", Document{ID: "u1", Fields: map[string]interface{}{"a": "1", "b": "1"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := s.UpdateFields(ctx, "actions", "u1", map[string]interface{}{"b": "2", "c": "3"}); err != nil {
			t.Fatalf("UpdateFields failed: %v", err)
		}

		got, _ := s.FindOne(ctx, "actions", Filter{"id": "u1"})
		if got.Fields["a"] != "1" || got.Fields["b"] != "2" || got.Fields["c"] != "3" {
			t.Errorf("fields = %v", got.Fields)
		}
	})

	t.Run("compare and swap guards status transitions", func(t *testing.T) {
		if err := s.Save(ctx, "actions", Document{ID: "cas1", Fields: map[string]interface{}{"status": "REQUESTED"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		swapped, err := s.CompareAndSwap(ctx, "actions", "cas1", "status", "REQUESTED", "RESPONDED")
		if err != nil || !swapped {
			t.Fatalf("first swap = (%v, %v), want (true, nil)", swapped, err)
		}

		swapped, err = s.CompareAndSwap(ctx, "actions", "cas1", "status", "REQUESTED", "RESPONDED")
		if err != nil {
			t.Fatalf("second swap errored: %v", err)
		}
		if swapped {
			t.Error("second swap must lose")
		}

		got, _ := s.FindOne(ctx, "actions", Filter{"id": "cas1"})
		if got.Fields["status"] != "RESPONDED" {
			t.Errorf("status = %v, want RESPONDED", got.Fields["status"])
		}
	})

	t.Run("exactly one concurrent swap wins", func(t *testing.T) {
		if err := s.Save(ctx, "actions", Document{ID: "race1", Fields: map[string]interface{}{"status": "REQUESTED"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		var wins int
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndSwap(ctx, "actions", "race1", "status", "REQUESTED", "RESPONDED")
				if err != nil {
					t.Errorf("swap errored: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("winners = %d, want exactly 1", wins)
		}
	})

	t.Run("blob lifecycle", func(t *testing.T) {
		payload := []byte{0x01, 0x02, 0xfe, 0xff}
		if err := s.PutBlob(ctx, "blob1", payload); err != nil {
			t.Fatalf("PutBlob failed: %v", err)
		}

		got, err := s.GetBlob(ctx, "blob1")
		if err != nil {
			t.Fatalf("GetBlob failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("blob = %v, want %v", got, payload)
		}

		if err := s.DeleteBlob(ctx, "blob1"); err != nil {
			t.Fatalf("DeleteBlob failed: %v", err)
		}
		if _, err := s.GetBlob(ctx, "blob1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetBlob after delete = %v, want ErrNotFound", err)
		}

		// Deleting a missing blob is a no-op.
		if err := s.DeleteBlob(ctx, "blob1"); err != nil {
			t.Errorf("double delete errored: %v", err)
		}
	})
}
