package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardian-mrv/policyengine/policy"
	"github.com/guardian-mrv/policyengine/policy/emit"
	"github.com/guardian-mrv/policyengine/policy/store"
)

// SnapshotCollection holds the per-policy snapshot pointer rows. At most
// one row exists per policy, keyed by policy id.
const SnapshotCollection = "policy_snapshots"

// DiffSender propagates a computed change set to external replicas.
//
// Propagation is best-effort: a send failure is logged and never blocks
// persistence of the local snapshot.
type DiffSender interface {
	SendDiff(ctx context.Context, policyID string, payload []byte) error
}

// MemSender records sent payloads in memory. Test helper.
type MemSender struct {
	Sent [][]byte

	// Err, when set, is returned by every SendDiff call.
	Err error
}

// SendDiff appends the payload, or fails with the configured error.
func (s *MemSender) SendDiff(ctx context.Context, policyID string, payload []byte) error {
	if s.Err != nil {
		return s.Err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.Sent = append(s.Sent, buf)
	return nil
}

// Engine produces encrypted, file-persisted backups of a policy's
// monitored collections, with incremental diffs against the cached
// prior snapshot.
//
// Lifecycle: Init loads or creates the policy's snapshot row and warms
// the cache from the persisted file; Save captures the current
// collections and persists a new encrypted full backup, propagating
// either the full snapshot or an incremental diff. The old persisted
// file is deleted only after the new one is durably referenced.
type Engine struct {
	store       store.Store
	policyID    string
	passphrase  string
	collections []string
	sender      DiffSender
	emitter     emit.Emitter
	metrics     *policy.Metrics

	prior  *Snapshot
	fileID string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSender sets the diff propagation seam.
func WithSender(s DiffSender) EngineOption {
	return func(e *Engine) { e.sender = s }
}

// WithEmitter sets the engine's observability emitter.
func WithEmitter(em emit.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(m *policy.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a backup engine for one policy over the given store.
//
// collections names the monitored store collections captured into each
// snapshot. The passphrase encrypts every persisted file; the engine
// never stores plaintext collection dumps.
func NewEngine(s store.Store, policyID, passphrase string, collections []string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       s,
		policyID:    policyID,
		passphrase:  passphrase,
		collections: collections,
		emitter:     emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init loads the policy's snapshot row, creating it with empty diff
// topic metadata on first backup, and warms the prior-snapshot cache
// from the persisted file.
//
// A corrupt or missing file yields a nil prior and the engine falls back
// to full-backup mode rather than failing the cycle.
func (e *Engine) Init(ctx context.Context) error {
	row, err := e.store.FindOne(ctx, SnapshotCollection, store.Filter{"id": e.policyID})
	if errors.Is(err, store.ErrNotFound) {
		row = store.Document{
			ID: e.policyID,
			Fields: map[string]interface{}{
				"fileId":    "",
				"diffTopic": "",
			},
		}
		if err := e.store.Save(ctx, SnapshotCollection, row); err != nil {
			return fmt.Errorf("failed to create snapshot row: %w", err)
		}
		e.emitEvent("backup_initialized", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load snapshot row: %w", err)
	}

	fileID, _ := row.Fields["fileId"].(string)
	e.fileID = fileID
	e.prior = e.loadFile(ctx, fileID)
	return nil
}

// File returns the cached prior snapshot, nil when the engine is in
// full-backup mode.
func (e *Engine) File() *Snapshot {
	return e.prior
}

// Save captures the monitored collections and persists a new encrypted
// backup file.
//
// With full=false and a cached prior snapshot, the incremental diff is
// propagated through the sender (best-effort) and the new file still
// holds the combined full state, so every persisted file is independently
// restorable. With full=true or no prior, the full snapshot is
// propagated instead. The old file is deleted only after the new one is
// confirmed written and the row repointed.
func (e *Engine) Save(ctx context.Context, full bool) error {
	start := time.Now()

	next, err := e.capture(ctx)
	if err != nil {
		return err
	}

	mode := "full"
	var outbound interface{} = next
	if !full && e.prior != nil {
		mode = "diff"
		outbound = ComputeDiff(e.prior, next)
	}

	e.sendDiff(ctx, outbound)

	plaintext, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	sealed, err := encrypt(plaintext, e.passphrase)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	newFileID := uuid.NewString()
	if err := e.store.PutBlob(ctx, newFileID, sealed); err != nil {
		return fmt.Errorf("failed to persist snapshot file: %w", err)
	}

	err = e.store.UpdateFields(ctx, SnapshotCollection, e.policyID, map[string]interface{}{
		"fileId":    newFileID,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to repoint snapshot row: %w", err)
	}

	// Old-file cleanup happens only after the new file is durably
	// referenced. A delete failure leaves an orphaned blob, never a
	// dangling pointer.
	if old := e.fileID; old != "" && old != newFileID {
		if err := e.store.DeleteBlob(ctx, old); err != nil {
			e.emitEvent("backup_old_file_delete_failed", map[string]interface{}{
				"file_id": old,
				"error":   err.Error(),
			})
		}
	}

	e.fileID = newFileID
	e.prior = next

	if e.metrics != nil {
		e.metrics.RecordBackupCycle(e.policyID, mode, time.Since(start))
	}
	e.emitEvent("backup_saved", map[string]interface{}{
		"mode":    mode,
		"file_id": newFileID,
	})
	return nil
}

// capture reads every monitored collection into a fresh snapshot.
func (e *Engine) capture(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()
	for _, collection := range e.collections {
		docs, err := e.store.Find(ctx, collection, store.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to capture collection %s: %w", collection, err)
		}
		for _, doc := range docs {
			snap.Put(collection, doc)
		}
	}
	// Normalize through a JSON round trip so later diffs compare like
	// against like regardless of the store backend's value types.
	return snap.Clone()
}

// sendDiff propagates the outbound payload best-effort. Failures are
// logged and never block local persistence.
func (e *Engine) sendDiff(ctx context.Context, outbound interface{}) {
	if e.sender == nil {
		return
	}
	payload, err := json.Marshal(outbound)
	if err != nil {
		e.emitEvent("backup_send_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := e.sender.SendDiff(ctx, e.policyID, payload); err != nil {
		e.emitEvent("backup_send_failed", map[string]interface{}{"error": err.Error()})
	}
}

// loadFile decrypts and decodes a persisted snapshot file. Any failure
// (missing blob, bad ciphertext, malformed JSON) yields nil, pushing the
// engine into full-backup mode.
func (e *Engine) loadFile(ctx context.Context, fileID string) *Snapshot {
	if fileID == "" {
		return nil
	}

	sealed, err := e.store.GetBlob(ctx, fileID)
	if err != nil {
		e.emitEvent("backup_file_unreadable", map[string]interface{}{"file_id": fileID, "error": err.Error()})
		return nil
	}
	plaintext, err := decrypt(sealed, e.passphrase)
	if err != nil {
		e.emitEvent("backup_file_unreadable", map[string]interface{}{"file_id": fileID, "error": err.Error()})
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		e.emitEvent("backup_file_unreadable", map[string]interface{}{"file_id": fileID, "error": err.Error()})
		return nil
	}
	if snap.Collections == nil {
		snap.Collections = make(map[string]map[string]map[string]interface{})
	}
	return &snap
}

func (e *Engine) emitEvent(msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		PolicyID: e.policyID,
		Msg:      msg,
		Meta:     meta,
	})
}
