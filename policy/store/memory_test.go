package store

import (
	"context"
	"testing"
)

func TestMemStore(t *testing.T) {
	runStoreTests(t, NewMemStore())
}

func TestMemStoreIsolation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	fields := map[string]interface{}{"nested": map[string]interface{}{"k": "v"}}
	if err := s.Save(ctx, "c", Document{ID: "d1", Fields: fields}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's map after Save must not change the store.
	fields["nested"].(map[string]interface{})["k"] = "mutated"
	got, err := s.FindOne(ctx, "c", Filter{"id": "d1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got.Fields["nested"].(map[string]interface{})["k"] != "v" {
		t.Error("stored document aliases the caller's map")
	}

	// Mutating a returned document must not change the store either.
	got.Fields["nested"].(map[string]interface{})["k"] = "mutated"
	again, _ := s.FindOne(ctx, "c", Filter{"id": "d1"})
	if again.Fields["nested"].(map[string]interface{})["k"] != "v" {
		t.Error("FindOne returns an aliased document")
	}
}
