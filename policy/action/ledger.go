package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SubmitResult is the ledger's receipt for one submitted message.
type SubmitResult struct {
	// ID is the ledger-assigned message identity.
	ID string

	// TopicID is the topic the message landed on.
	TopicID string

	// SequenceNumber is the message's position within the topic.
	SequenceNumber int64
}

// Ledger is the coordinator's seam to the underlying distributed ledger.
//
// Only the respond stage of the protocol calls it, using the responding
// party's own credentials; the initiating party never submits directly.
type Ledger interface {
	// CreateTopic provisions a new topic and returns its reference.
	CreateTopic(ctx context.Context, memo string) (string, error)

	// Submit publishes one message to a topic.
	Submit(ctx context.Context, topicID string, message []byte) (SubmitResult, error)

	// Fetch retrieves a previously submitted message by id, used by
	// auditors to confirm a response's committed identifiers.
	Fetch(ctx context.Context, messageID string) ([]byte, error)
}

// MemLedger is an in-memory Ledger for tests and local development.
//
// Topics and messages live in process memory; sequence numbers are
// per-topic and start at 1.
type MemLedger struct {
	mu       sync.Mutex
	topics   map[string][]string // topicID -> message ids in order
	messages map[string][]byte
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		topics:   make(map[string][]string),
		messages: make(map[string][]byte),
	}
}

// CreateTopic provisions a new in-memory topic.
func (l *MemLedger) CreateTopic(ctx context.Context, memo string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	topicID := "0.0." + uuid.NewString()[:8]
	l.topics[topicID] = nil
	return topicID, nil
}

// Submit appends a message to a topic.
func (l *MemLedger) Submit(ctx context.Context, topicID string, message []byte) (SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.topics[topicID]; !ok {
		return SubmitResult{}, fmt.Errorf("unknown topic: %s", topicID)
	}

	msgID := uuid.NewString()
	stored := make([]byte, len(message))
	copy(stored, message)
	l.messages[msgID] = stored
	l.topics[topicID] = append(l.topics[topicID], msgID)

	return SubmitResult{
		ID:             msgID,
		TopicID:        topicID,
		SequenceNumber: int64(len(l.topics[topicID])),
	}, nil
}

// Fetch returns a previously submitted message.
func (l *MemLedger) Fetch(ctx context.Context, messageID string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, ok := l.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("unknown message: %s", messageID)
	}
	out := make([]byte, len(msg))
	copy(out, msg)
	return out, nil
}

// TopicLen reports how many messages a topic holds. Test helper.
func (l *MemLedger) TopicLen(topicID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.topics[topicID])
}
