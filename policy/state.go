package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// BlockState is the ephemeral runtime state of one block for one user.
type BlockState struct {
	// Data is the free-form state blob.
	Data map[string]interface{}

	// Index is the current step/page for multi-step blocks. Defaults
	// to 0 on first access.
	Index int

	// Version increments on every write, letting pollers detect change.
	Version int64
}

// stateKey scopes state to one (block, user) pair.
type stateKey struct {
	block string
	user  string
}

// StateStore maps (block, user) to runtime state.
//
// State is created lazily on first access per user and never shared
// across users: mutations are scoped to the (block, user) key, so
// concurrent users never contend beyond the map lock.
//
// Every Set triggers a Refresh-class event through the router to the
// owning block's listeners so dependent UI can re-poll. This coupling is
// intentional and relied upon by step containers.
type StateStore struct {
	mu     sync.RWMutex
	ins    *Instance
	states map[stateKey]*BlockState
}

// newStateStore creates the state store for an activated instance.
func newStateStore(ins *Instance) *StateStore {
	return &StateStore{
		ins:    ins,
		states: make(map[stateKey]*BlockState),
	}
}

// Get returns the state of a block for a user.
//
// First access for a user returns a fresh empty state (index 0) rather
// than failing; multi-step blocks rely on this defaulting. The returned
// state is a deep copy, so callers never alias the stored blob.
func (s *StateStore) Get(blockUUID, userID string) BlockState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.states[stateKey{block: blockUUID, user: userID}]
	if !ok {
		return BlockState{Data: map[string]interface{}{}}
	}

	data, err := deepCopyMap(stored.Data)
	if err != nil {
		// A blob that fails to round-trip was never valid state; expose
		// an empty blob rather than aliasing the stored map.
		data = map[string]interface{}{}
	}
	return BlockState{Data: data, Index: stored.Index, Version: stored.Version}
}

// Set fully replaces the stored blob for (block, user) and fires a
// Refresh-class event from the owning block.
//
// Callers are responsible for merging when partial update is desired;
// there is no server-side deep-merge.
func (s *StateStore) Set(ctx context.Context, node *Node, userID string, data map[string]interface{}) error {
	copied, err := deepCopyMap(data)
	if err != nil {
		return fmt.Errorf("failed to copy state blob: %w", err)
	}

	s.mu.Lock()
	key := stateKey{block: node.UUID, user: userID}
	stored, ok := s.states[key]
	if !ok {
		stored = &BlockState{}
		s.states[key] = stored
	}
	stored.Data = copied
	stored.Version++
	s.mu.Unlock()

	if s.ins.metrics != nil {
		s.ins.metrics.RecordStateWrite(s.ins.PolicyID)
	}
	s.ins.emit("state_set", node.Tag, userID, nil)

	return s.ins.router.Trigger(ctx, RefreshEvent, node, userID, copied)
}

// SetIndex updates the step/index pointer for (block, user), preserving
// the data blob, and fires a Refresh-class event from the owning block.
func (s *StateStore) SetIndex(ctx context.Context, node *Node, userID string, index int) error {
	s.mu.Lock()
	key := stateKey{block: node.UUID, user: userID}
	stored, ok := s.states[key]
	if !ok {
		stored = &BlockState{Data: map[string]interface{}{}}
		s.states[key] = stored
	}
	stored.Index = index
	stored.Version++
	s.mu.Unlock()

	if s.ins.metrics != nil {
		s.ins.metrics.RecordStateWrite(s.ins.PolicyID)
	}
	s.ins.emit("state_index_set", node.Tag, userID, map[string]interface{}{"index": index})

	return s.ins.router.Trigger(ctx, RefreshEvent, node, userID, map[string]interface{}{"index": index})
}

// index reads the step pointer without copying the blob.
func (s *StateStore) index(blockUUID, userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.states[stateKey{block: blockUUID, user: userID}]
	if !ok {
		return 0
	}
	return stored.Index
}

// deepCopyMap copies a state blob using a JSON round trip.
//
// This works for any JSON-serializable value and guarantees the stored
// blob and the caller's map never share structure.
func deepCopyMap(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var copied map[string]interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}
