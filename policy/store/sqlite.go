package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps collections and blobs in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process policy instances
//   - Local deployments requiring durable action records and backups
//
// SQLiteStore uses WAL mode for concurrent reads and transactional writes.
//
// Schema:
//   - policy_documents: collection documents with a JSON fields column
//   - policy_blobs: encrypted backup files and off-chain document bodies
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./policy.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically:
//   - Creates the database file if it doesn't exist
//   - Creates required tables
//   - Enables WAL mode and a busy timeout
//
// Example:
//
//	st, err := store.NewSQLiteStore("./policy.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	st := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return st, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	documentsTable := `
		CREATE TABLE IF NOT EXISTS policy_documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(collection, id)
		)
	`
	if _, err := s.db.ExecContext(ctx, documentsTable); err != nil {
		return fmt.Errorf("failed to create policy_documents table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_documents_collection ON policy_documents(collection)"); err != nil {
		return fmt.Errorf("failed to create idx_documents_collection: %w", err)
	}

	blobsTable := `
		CREATE TABLE IF NOT EXISTS policy_blobs (
			id TEXT NOT NULL PRIMARY KEY,
			data BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, blobsTable); err != nil {
		return fmt.Errorf("failed to create policy_blobs table: %w", err)
	}

	return nil
}

// FindOne returns the first matching document (implements Store).
//
// Filter matching happens in Go after decoding the JSON fields column,
// keeping the SQL surface identical across backends.
func (s *SQLiteStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, collection, filter)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

// Find returns all matching documents in insertion order (implements Store).
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, fields
		FROM policy_documents
		WHERE collection = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Document
	for rows.Next() {
		var (
			id         string
			fieldsJSON string
		)
		if err := rows.Scan(&id, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}

		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document fields: %w", err)
		}

		doc := Document{ID: id, Fields: fields}
		if matches(doc, filter) {
			result = append(result, doc)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	return result, nil
}

// Save inserts or replaces a document by ID (implements Store).
func (s *SQLiteStore) Save(ctx context.Context, collection string, doc Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	fields := doc.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal document fields: %w", err)
	}

	query := `
		INSERT INTO policy_documents (collection, id, fields)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, collection, doc.ID, string(fieldsJSON)); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

// UpdateFields merges fields into an existing document (implements Store).
//
// The read-modify-write runs inside a transaction so concurrent updates
// never interleave.
func (s *SQLiteStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withDocumentTx(ctx, collection, id, func(current map[string]interface{}) (map[string]interface{}, bool, error) {
		for key, value := range fields {
			current[key] = value
		}
		return current, true, nil
	})
}

// CompareAndSwap atomically swaps a field value (implements Store).
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, collection, id, field string, oldValue, newValue interface{}) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	swapped := false
	err := s.withDocumentTx(ctx, collection, id, func(current map[string]interface{}) (map[string]interface{}, bool, error) {
		if !valueEqual(current[field], oldValue) {
			return nil, false, nil
		}
		current[field] = newValue
		swapped = true
		return current, true, nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

// withDocumentTx loads a document inside a transaction, applies mutate,
// and writes the result back when mutate requests it.
func (s *SQLiteStore) withDocumentTx(ctx context.Context, collection, id string, mutate func(map[string]interface{}) (map[string]interface{}, bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fieldsJSON string
	row := tx.QueryRowContext(ctx,
		"SELECT fields FROM policy_documents WHERE collection = ? AND id = ?", collection, id)
	if err := row.Scan(&fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return fmt.Errorf("failed to unmarshal document fields: %w", err)
	}

	updated, write, err := mutate(fields)
	if err != nil {
		return err
	}
	if !write {
		return tx.Commit()
	}

	updatedJSON, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal document fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE policy_documents SET fields = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND id = ?",
		string(updatedJSON), collection, id); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PutBlob stores binary content under an opaque id (implements Store).
func (s *SQLiteStore) PutBlob(ctx context.Context, id string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO policy_blobs (id, data)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, id, data); err != nil {
		return fmt.Errorf("failed to save blob: %w", err)
	}
	return nil
}

// GetBlob retrieves binary content by id (implements Store).
func (s *SQLiteStore) GetBlob(ctx context.Context, id string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM policy_blobs WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes binary content by id (implements Store).
//
// Deleting a missing blob is a no-op.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM policy_blobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Close closes the database connection.
//
// After Close, all operations return an error. Calling Close multiple
// times is safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
