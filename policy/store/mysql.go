package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It keeps collections and blobs in a relational database.
// Designed for:
//   - Production policies requiring persistence
//   - Deployments with multiple policy workers
//   - Audit trails and compliance requirements
//
// MySQLStore uses connection pooling and transactions for reliability,
// and SELECT ... FOR UPDATE to make CompareAndSwap atomic across
// processes.
//
// Schema:
//   - policy_documents: collection documents with a JSON fields column
//   - policy_blobs: encrypted backup files and off-chain document bodies
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/policies
//	user:password@tcp(127.0.0.1:3306)/policies?parseTime=true
//
// Never hardcode credentials in source; read the DSN from the
// environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore{db: db}

	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return st, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	documentsTable := `
		CREATE TABLE IF NOT EXISTS policy_documents (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			collection VARCHAR(255) NOT NULL,
			id VARCHAR(255) NOT NULL,
			fields JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_collection (collection),
			UNIQUE KEY unique_collection_id (collection, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, documentsTable); err != nil {
		return fmt.Errorf("failed to create policy_documents table: %w", err)
	}

	blobsTable := `
		CREATE TABLE IF NOT EXISTS policy_blobs (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			data LONGBLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, blobsTable); err != nil {
		return fmt.Errorf("failed to create policy_blobs table: %w", err)
	}

	return nil
}

// FindOne returns the first matching document (implements Store).
func (m *MySQLStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := m.Find(ctx, collection, filter)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

// Find returns all matching documents in insertion order (implements Store).
func (m *MySQLStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, fields
		FROM policy_documents
		WHERE collection = ?
		ORDER BY seq ASC
	`

	rows, err := m.db.QueryContext(ctx, query, collection)
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
func (m *MySQLStore) Save(ctx context.Context, collection string, doc Document) error {
	if err := m.checkOpen(); err != nil {
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
		ON DUPLICATE KEY UPDATE fields = VALUES(fields)
	`

	if _, err := m.db.ExecContext(ctx, query, collection, doc.ID, string(fieldsJSON)); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

// UpdateFields merges fields into an existing document (implements Store).
func (m *MySQLStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	return m.withDocumentTx(ctx, collection, id, func(current map[string]interface{}) (map[string]interface{}, bool, error) {
		for key, value := range fields {
			current[key] = value
		}
		return current, true, nil
	})
}

// CompareAndSwap atomically swaps a field value (implements Store).
//
// The row is locked with SELECT ... FOR UPDATE for the duration of the
// transaction, so competing swaps from other processes serialize here.
func (m *MySQLStore) CompareAndSwap(ctx context.Context, collection, id, field string, oldValue, newValue interface{}) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	swapped := false
	err := m.withDocumentTx(ctx, collection, id, func(current map[string]interface{}) (map[string]interface{}, bool, error) {
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

// withDocumentTx loads a row under FOR UPDATE, applies mutate, and
// writes the result back when mutate requests it.
func (m *MySQLStore) withDocumentTx(ctx context.Context, collection, id string, mutate func(map[string]interface{}) (map[string]interface{}, bool, error)) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fieldsJSON string
	row := tx.QueryRowContext(ctx,
		"SELECT fields FROM policy_documents WHERE collection = ? AND id = ? FOR UPDATE", collection, id)
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
		"UPDATE policy_documents SET fields = ? WHERE collection = ? AND id = ?",
		string(updatedJSON), collection, id); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PutBlob stores binary content under an opaque id (implements Store).
func (m *MySQLStore) PutBlob(ctx context.Context, id string, data []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO policy_blobs (id, data)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data)
	`
	if _, err := m.db.ExecContext(ctx, query, id, data); err != nil {
		return fmt.Errorf("failed to save blob: %w", err)
	}
	return nil
}

// GetBlob retrieves binary content by id (implements Store).
func (m *MySQLStore) GetBlob(ctx context.Context, id string) ([]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := m.db.QueryRowContext(ctx, "SELECT data FROM policy_blobs WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes binary content by id (implements Store).
func (m *MySQLStore) DeleteBlob(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, "DELETE FROM policy_blobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Close closes the database connection.
//
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
