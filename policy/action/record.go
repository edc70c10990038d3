// Package action implements the multi-party action coordinator: a
// four-stage request/response/complete/validate protocol that lets one
// workflow block perform an operation requiring credentials held by a
// different party.
//
// The initiating party never touches the privileged credentials: it
// composes a request row, the credential-holding party responds by
// performing the privileged operation with its own keys, the initiator
// completes local bookkeeping from the persisted response, and an
// auditor validates that the response binds to the request it claims to
// resolve.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardian-mrv/policyengine/policy/store"
)

// Collection is the store collection holding action records.
const Collection = "policy_actions"

// Status is the lifecycle state of an action record.
//
// Transitions are monotonic: REQUESTED → RESPONDED → COMPLETED, with
// FAILED reachable from RESPONDED when the privileged operation fails
// after the row was claimed. The REQUESTED → RESPONDED edge is guarded
// by a compare-and-swap on the persisted row, so two competing
// responders cannot both perform the privileged operation.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusResponded Status = "RESPONDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Record is one leg of the multi-party coordination protocol.
type Record struct {
	// UUID is the record's fresh identity, minted at request time.
	UUID string

	// Type selects the action variant (topic creation, message send,
	// batch send, role signing).
	Type Type

	// PolicyID and BlockTag identify the workflow block that initiated
	// the action.
	PolicyID string
	BlockTag string

	// Owner is the identity reference of the initiating party.
	Owner string

	// AccountID is the initiator's ledger account, recorded at request
	// time and checked against the response during validation.
	AccountID string

	// Status is the current protocol stage.
	Status Status

	// Document is the unsigned/unexecuted action descriptor composed at
	// request time.
	Document map[string]interface{}

	// Response is the result descriptor persisted by the responding
	// party, nil until the respond stage.
	Response map[string]interface{}

	CreatedAt time.Time
	UpdatedAt time.Time
}

// newRecord composes a fresh REQUESTED record.
func newRecord(actionType Type, policyID, blockTag, owner, accountID string, document map[string]interface{}) *Record {
	now := time.Now().UTC()
	return &Record{
		UUID:      uuid.NewString(),
		Type:      actionType,
		PolicyID:  policyID,
		BlockTag:  blockTag,
		Owner:     owner,
		AccountID: accountID,
		Status:    StatusRequested,
		Document:  document,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// toDocument flattens the record into store fields.
func (r *Record) toDocument() store.Document {
	fields := map[string]interface{}{
		"type":      string(r.Type),
		"policyId":  r.PolicyID,
		"blockTag":  r.BlockTag,
		"owner":     r.Owner,
		"accountId": r.AccountID,
		"status":    string(r.Status),
		"document":  r.Document,
		"createdAt": r.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.Response != nil {
		fields["response"] = r.Response
	}
	return store.Document{ID: r.UUID, Fields: fields}
}

// recordFromDocument rebuilds a record from store fields.
func recordFromDocument(doc store.Document) (*Record, error) {
	r := &Record{UUID: doc.ID}

	str := func(key string) string {
		s, _ := doc.Fields[key].(string)
		return s
	}
	r.Type = Type(str("type"))
	r.PolicyID = str("policyId")
	r.BlockTag = str("blockTag")
	r.Owner = str("owner")
	r.AccountID = str("accountId")
	r.Status = Status(str("status"))

	if m, ok := doc.Fields["document"].(map[string]interface{}); ok {
		r.Document = m
	}
	if m, ok := doc.Fields["response"].(map[string]interface{}); ok {
		r.Response = m
	}

	for key, dst := range map[string]*time.Time{"createdAt": &r.CreatedAt, "updatedAt": &r.UpdatedAt} {
		if s := str(key); s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("action record %s has malformed %s: %w", doc.ID, key, err)
			}
			*dst = t
		}
	}

	return r, nil
}

// loadRecord fetches one record by id.
func loadRecord(ctx context.Context, s store.Store, id string) (*Record, error) {
	doc, err := s.FindOne(ctx, Collection, store.Filter{"id": id})
	if err != nil {
		return nil, err
	}
	return recordFromDocument(doc)
}
