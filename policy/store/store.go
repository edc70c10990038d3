// Package store provides persistence backends for the policy engine.
//
// The engine treats persistence as a generic document layer: named
// collections of JSON-like documents plus a binary blob store keyed by
// opaque ids. Action records, snapshot rows, and encrypted backup files
// all flow through this seam, keeping the engine independent of any
// particular database.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document or blob does not exist.
var ErrNotFound = errors.New("not found")

// Document is a single row in a named collection.
//
// Fields holds the JSON-like payload. Implementations round-trip Fields
// through JSON, so values should be JSON-serializable; numbers read back
// as float64 per encoding/json defaults.
type Document struct {
	// ID uniquely identifies the document within its collection.
	ID string

	// Fields is the document payload.
	Fields map[string]interface{}
}

// Filter selects documents by exact field equality.
//
// All entries must match (AND logic). An empty filter matches every
// document in the collection. The special key "id" matches Document.ID.
type Filter map[string]interface{}

// Store provides document and blob persistence for the policy engine.
//
// Required consistency: read-your-writes within one process. The engine
// relies on CompareAndSwap as the only guard against write-write races
// (competing coordinator responses), so implementations must make it
// atomic with respect to concurrent callers.
//
// Implementations:
//   - MemStore: in-memory, for tests and single-process development
//   - SQLiteStore: single-file database via modernc.org/sqlite
//   - MySQLStore: server database via go-sql-driver/mysql
type Store interface {
	// FindOne returns the first document in the collection matching the
	// filter. Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)

	// Find returns all documents in the collection matching the filter,
	// in insertion order. An empty result is not an error.
	Find(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// Save inserts the document, or fully replaces it if a document with
	// the same ID already exists in the collection.
	Save(ctx context.Context, collection string, doc Document) error

	// UpdateFields merges the given fields into an existing document.
	// Returns ErrNotFound if the document does not exist.
	UpdateFields(ctx context.Context, collection, id string, fields map[string]interface{}) error

	// CompareAndSwap atomically sets field to newValue only if its current
	// value equals oldValue. Returns (true, nil) when the swap happened,
	// (false, nil) when the current value did not match, and an error only
	// on store access failure or missing document.
	CompareAndSwap(ctx context.Context, collection, id, field string, oldValue, newValue interface{}) (bool, error)

	// PutBlob stores binary content under the given opaque id, replacing
	// any existing blob with that id.
	PutBlob(ctx context.Context, id string, data []byte) error

	// GetBlob retrieves binary content by id.
	// Returns ErrNotFound if the blob does not exist.
	GetBlob(ctx context.Context, id string) ([]byte, error)

	// DeleteBlob removes binary content by id.
	// Deleting a missing blob is a no-op.
	DeleteBlob(ctx context.Context, id string) error
}

// matches reports whether doc satisfies every entry of the filter.
//
// Comparison is by stringified equality so that values surviving a JSON
// round trip (int vs float64) still match.
func matches(doc Document, filter Filter) bool {
	for key, want := range filter {
		if key == "id" {
			if !valueEqual(doc.ID, want) {
				return false
			}
			continue
		}
		got, ok := doc.Fields[key]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// valueEqual compares two JSON-like scalar values tolerantly.
func valueEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	// Numeric values may arrive as int before a JSON round trip and
	// float64 after it.
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
