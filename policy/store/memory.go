package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps collections and blobs in maps guarded by a RWMutex.
// Designed for:
//   - Testing and development
//   - Single-process policies where persistence isn't required
//
// MemStore is thread-safe and supports concurrent access. Documents are
// JSON round-tripped on Save and on read, so stored values behave exactly
// as they would with a database-backed store.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with document and blob volume
type MemStore struct {
	mu          sync.RWMutex
	collections map[string][]Document // collection -> documents in insertion order
	blobs       map[string][]byte     // blob id -> content
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore()
//	coordinator := action.NewCoordinator(st, ledger, keys)
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string][]Document),
		blobs:       make(map[string][]byte),
	}
}

// FindOne returns the first matching document (implements Store).
func (m *MemStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			return copyDocument(doc)
		}
	}
	return Document{}, ErrNotFound
}

// Find returns all matching documents in insertion order (implements Store).
func (m *MemStore) Find(_ context.Context, collection string, filter Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Document
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			copied, err := copyDocument(doc)
			if err != nil {
				return nil, err
			}
			result = append(result, copied)
		}
	}
	return result, nil
}

// Save inserts or replaces a document by ID (implements Store).
func (m *MemStore) Save(_ context.Context, collection string, doc Document) error {
	copied, err := copyDocument(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for i, existing := range docs {
		if existing.ID == doc.ID {
			docs[i] = copied
			return nil
		}
	}
	m.collections[collection] = append(docs, copied)
	return nil
}

// UpdateFields merges fields into an existing document (implements Store).
func (m *MemStore) UpdateFields(_ context.Context, collection, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for i, existing := range docs {
		if existing.ID != id {
			continue
		}
		updated, err := copyDocument(existing)
		if err != nil {
			return err
		}
		for key, value := range fields {
			updated.Fields[key] = normalizeValue(value)
		}
		docs[i] = updated
		return nil
	}
	return ErrNotFound
}

// CompareAndSwap atomically swaps a field value (implements Store).
//
// The write lock makes the read-compare-write sequence atomic with
// respect to all other MemStore operations.
func (m *MemStore) CompareAndSwap(_ context.Context, collection, id, field string, oldValue, newValue interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for i, existing := range docs {
		if existing.ID != id {
			continue
		}
		if !valueEqual(existing.Fields[field], oldValue) {
			return false, nil
		}
		updated, err := copyDocument(existing)
		if err != nil {
			return false, err
		}
		updated.Fields[field] = normalizeValue(newValue)
		docs[i] = updated
		return true, nil
	}
	return false, ErrNotFound
}

// PutBlob stores binary content under an opaque id (implements Store).
func (m *MemStore) PutBlob(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)
	m.blobs[id] = copied
	return nil
}

// GetBlob retrieves binary content by id (implements Store).
func (m *MemStore) GetBlob(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// DeleteBlob removes binary content by id (implements Store).
//
// Deleting a missing blob is a no-op.
func (m *MemStore) DeleteBlob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, id)
	return nil
}

// copyDocument deep-copies a document through a JSON round trip so that
// callers never alias stored maps, and stored values match what a
// database-backed store would return.
func copyDocument(doc Document) (Document, error) {
	if doc.Fields == nil {
		return Document{ID: doc.ID, Fields: map[string]interface{}{}}, nil
	}
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal document fields: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal document fields: %w", err)
	}
	return Document{ID: doc.ID, Fields: fields}, nil
}

// normalizeValue JSON round-trips a single value to keep in-memory
// documents consistent with database-backed stores.
func normalizeValue(value interface{}) interface{} {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return value
	}
	return normalized
}
