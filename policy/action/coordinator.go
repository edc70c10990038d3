package action

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guardian-mrv/policyengine/policy"
	"github.com/guardian-mrv/policyengine/policy/emit"
	"github.com/guardian-mrv/policyengine/policy/store"
)

// ErrAlreadyResponded reports that a respond call found the record past
// REQUESTED status. The privileged operation was not performed again.
var ErrAlreadyResponded = errors.New("action record already responded")

// ErrNotResponded reports a complete call on a record that has no
// persisted response yet.
var ErrNotResponded = errors.New("action record has no response")

// Coordinator drives the four-stage multi-party action protocol over a
// persisted record table.
//
// Stage ordering per record: Request mints a REQUESTED row; Respond
// claims it via compare-and-swap and performs the privileged operation;
// Complete finalizes the initiator's bookkeeping; Validate audits that
// the response binds to the request. Each stage is independently
// invokable and idempotent on retry of the same stage.
type Coordinator struct {
	store   store.Store
	ledger  Ledger
	keys    KeyLoader
	emitter emit.Emitter
	metrics *policy.Metrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithEmitter sets the coordinator's observability emitter.
func WithEmitter(e emit.Emitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(m *policy.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator over the given persistence,
// ledger, and key-loading seams.
func NewCoordinator(s store.Store, ledger Ledger, keys KeyLoader, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   s,
		ledger:  ledger,
		keys:    keys,
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestParams carries everything the initiator commits to at request
// time.
type RequestParams struct {
	Type     Type
	PolicyID string
	BlockTag string

	// Owner is the initiating identity.
	Owner string

	// AccountID is the initiator's ledger account, committed into the
	// record and checked against the response at validate time.
	AccountID string

	// Document is the unsigned/unexecuted action descriptor. For message
	// variants it carries topicId and the payload; for topic creation the
	// memo; for role signing the credential. Binding expectations such as
	// "wallet" or "relayerAccount" committed here are matched against the
	// response by Validate.
	Document map[string]interface{}
}

// Request composes and persists a fresh REQUESTED record.
//
// It touches neither the ledger nor any keys. At-least-once semantics:
// a request that never receives a response is a stuck row to be
// re-requested by the initiator; Validate is the idempotency and fraud
// check before any side effect is trusted.
func (c *Coordinator) Request(ctx context.Context, p RequestParams) (*Record, error) {
	if _, err := variantFor(p.Type); err != nil {
		c.recordStage(p.Type, "request", "error")
		return nil, err
	}
	if p.Owner == "" || p.AccountID == "" {
		c.recordStage(p.Type, "request", "error")
		return nil, fmt.Errorf("request requires owner and accountId")
	}

	rec := newRecord(p.Type, p.PolicyID, p.BlockTag, p.Owner, p.AccountID, p.Document)
	if err := c.store.Save(ctx, Collection, rec.toDocument()); err != nil {
		c.recordStage(p.Type, "request", "error")
		return nil, fmt.Errorf("failed to persist action request: %w", err)
	}

	c.recordStage(p.Type, "request", "success")
	c.emit("action_requested", rec, nil)
	return rec, nil
}

// Respond claims a REQUESTED record and performs the privileged
// operation with the responding party's own credentials.
//
// The claim is a compare-and-swap on the persisted row's status: only
// one responder wins a race, and a record already past REQUESTED returns
// ErrAlreadyResponded without re-performing the operation. If the
// privileged operation fails after the claim, the record moves to FAILED
// and the failure propagates.
func (c *Coordinator) Respond(ctx context.Context, recordID, responder string) (*Record, error) {
	rec, err := loadRecord(ctx, c.store, recordID)
	if err != nil {
		return nil, err
	}

	v, err := variantFor(rec.Type)
	if err != nil {
		return nil, err
	}

	swapped, err := c.store.CompareAndSwap(ctx, Collection, rec.UUID,
		"status", string(StatusRequested), string(StatusResponded))
	if err != nil {
		c.recordStage(rec.Type, "respond", "error")
		return nil, fmt.Errorf("failed to claim action record: %w", err)
	}
	if !swapped {
		c.recordStage(rec.Type, "respond", "rejected")
		return rec, ErrAlreadyResponded
	}
	rec.Status = StatusResponded

	creds, err := c.keys.Load(ctx, responder, v.credentialClass)
	if err != nil {
		return nil, c.failRecord(ctx, rec, fmt.Errorf("failed to load responder credentials: %w", err))
	}

	response, err := v.respond(ctx, c, rec, creds)
	if err != nil {
		return nil, c.failRecord(ctx, rec, err)
	}
	response["respondedBy"] = responder

	rec.Response = response
	rec.UpdatedAt = time.Now().UTC()
	err = c.store.UpdateFields(ctx, Collection, rec.UUID, map[string]interface{}{
		"response":  response,
		"updatedAt": rec.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist action response: %w", err)
	}

	c.recordStage(rec.Type, "respond", "success")
	c.emit("action_responded", rec, map[string]interface{}{"responder": responder})
	return rec, nil
}

// Complete finalizes the initiator's bookkeeping from the persisted
// response. It never re-derives credentials or repeats the privileged
// operation.
//
// Idempotent: completing an already COMPLETED record is a no-op.
func (c *Coordinator) Complete(ctx context.Context, recordID string) (*Record, error) {
	rec, err := loadRecord(ctx, c.store, recordID)
	if err != nil {
		return nil, err
	}

	if rec.Status == StatusCompleted {
		return rec, nil
	}
	if rec.Response == nil || rec.Status != StatusResponded {
		c.recordStage(rec.Type, "complete", "rejected")
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResponded, rec.UUID, rec.Status)
	}

	swapped, err := c.store.CompareAndSwap(ctx, Collection, rec.UUID,
		"status", string(StatusResponded), string(StatusCompleted))
	if err != nil {
		c.recordStage(rec.Type, "complete", "error")
		return nil, fmt.Errorf("failed to complete action record: %w", err)
	}
	if !swapped {
		// Lost a race with another completer; the record is done either way.
		return loadRecord(ctx, c.store, recordID)
	}
	rec.Status = StatusCompleted

	result := map[string]interface{}{}
	for _, key := range []string{"topicId", "messageId", "sequenceNumber", "receipts", "signature"} {
		if v, ok := rec.Response[key]; ok {
			result[key] = v
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	err = c.store.UpdateFields(ctx, Collection, rec.UUID, map[string]interface{}{
		"result":    result,
		"updatedAt": rec.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist action result: %w", err)
	}

	c.recordStage(rec.Type, "complete", "success")
	c.emit("action_completed", rec, nil)
	return rec, nil
}

// Validate audits that a record's response was produced by the expected
// party for the expected request.
//
// It re-derives the responder's verification material and checks the
// variant's binding fields: the response's accountId and credential-scope
// field (wallet or relayerAccount) must exactly match what the request
// committed to. A normal mismatch is a false result, never an error;
// errors are reserved for infrastructure failures.
func (c *Coordinator) Validate(ctx context.Context, rec *Record) (bool, error) {
	v, err := variantFor(rec.Type)
	if err != nil {
		return false, err
	}
	if rec.Response == nil {
		c.recordStage(rec.Type, "validate", "rejected")
		return false, nil
	}

	responder, _ := rec.Response["respondedBy"].(string)
	if responder == "" {
		c.recordStage(rec.Type, "validate", "rejected")
		return false, nil
	}

	creds, err := c.keys.Load(ctx, responder, v.credentialClass)
	if err != nil {
		c.recordStage(rec.Type, "validate", "error")
		return false, fmt.Errorf("failed to re-derive responder credentials: %w", err)
	}

	for _, field := range v.bindingFields {
		expected := c.requestBinding(rec, field)
		got, _ := rec.Response[field].(string)
		if expected == "" || got == "" || expected != got {
			c.recordStage(rec.Type, "validate", "rejected")
			return false, nil
		}
	}

	// The response's committed identifiers must match the re-derived
	// credentials, not just the request's expectations.
	if accountID, _ := rec.Response["accountId"].(string); accountID != creds.AccountID {
		c.recordStage(rec.Type, "validate", "rejected")
		return false, nil
	}

	if ok, err := c.verifySignature(rec, v, creds); err != nil {
		c.recordStage(rec.Type, "validate", "error")
		return false, err
	} else if !ok {
		c.recordStage(rec.Type, "validate", "rejected")
		return false, nil
	}

	c.recordStage(rec.Type, "validate", "success")
	return true, nil
}

// requestBinding reads a binding field from the request side: accountId
// comes from the record's own committed account, everything else from
// the request document's expectations.
func (c *Coordinator) requestBinding(rec *Record, field string) string {
	if field == "accountId" {
		return rec.AccountID
	}
	s, _ := rec.Document[field].(string)
	return s
}

// verifySignature recomputes the detached signature for variants that
// produce one. Variants without a signature in the response pass
// trivially.
func (c *Coordinator) verifySignature(rec *Record, v *variant, creds Credentials) (bool, error) {
	sig, ok := rec.Response["signature"].(string)
	if !ok {
		return true, nil
	}

	var subject interface{}
	switch rec.Type {
	case SendMessage:
		subject = rec.Document["message"]
	case RoleSign:
		subject = rec.Document["credential"]
	default:
		return true, nil
	}

	payload, err := json.Marshal(subject)
	if err != nil {
		return false, fmt.Errorf("failed to encode signed payload: %w", err)
	}
	return hmac.Equal([]byte(sig), []byte(sign(payload, creds.Key))), nil
}

// failRecord marks a claimed record FAILED after a privileged-operation
// failure and returns the original error.
func (c *Coordinator) failRecord(ctx context.Context, rec *Record, cause error) error {
	c.recordStage(rec.Type, "respond", "error")
	c.emit("action_failed", rec, map[string]interface{}{"error": cause.Error()})

	update := map[string]interface{}{
		"status":    string(StatusFailed),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.store.UpdateFields(ctx, Collection, rec.UUID, update); err != nil {
		return fmt.Errorf("%w (additionally failed to mark record failed: %v)", cause, err)
	}
	return cause
}

func (c *Coordinator) recordStage(t Type, stage, status string) {
	if c.metrics != nil {
		c.metrics.RecordActionStage(string(t), stage, status)
	}
}

func (c *Coordinator) emit(msg string, rec *Record, meta map[string]interface{}) {
	if c.emitter == nil {
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["action_type"] = string(rec.Type)
	meta["record_id"] = rec.UUID
	c.emitter.Emit(emit.Event{
		PolicyID: rec.PolicyID,
		BlockTag: rec.BlockTag,
		User:     rec.Owner,
		Msg:      msg,
		Meta:     meta,
	})
}
