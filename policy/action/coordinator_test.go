package action

import (
	"context"
	"errors"
	"testing"

	"github.com/guardian-mrv/policyengine/policy/store"
)

// testHarness bundles the coordinator with its seams for one test.
type testHarness struct {
	coord  *Coordinator
	store  *store.MemStore
	ledger *MemLedger
	keys   *StaticKeyLoader
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		store:  store.NewMemStore(),
		ledger: NewMemLedger(),
		keys:   NewStaticKeyLoader(),
	}
	h.coord = NewCoordinator(h.store, h.ledger, h.keys)
	return h
}

func TestTopicCreateProtocol(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.keys.Register("did:authority", CredentialRelayer, Credentials{
		AccountID:      "0.0.100",
		RelayerAccount: "0.0.1",
	})

	rec, err := h.coord.Request(ctx, RequestParams{
		Type:      TopicCreate,
		PolicyID:  "pol-1",
		BlockTag:  "create_topic",
		Owner:     "did:user:1",
		AccountID: "0.0.100",
		Document: map[string]interface{}{
			"memo":           "policy discussion",
			"relayerAccount": "0.0.1",
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if rec.Status != StatusRequested {
		t.Fatalf("status = %s, want REQUESTED", rec.Status)
	}

	rec, err = h.coord.Respond(ctx, rec.UUID, "did:authority")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if rec.Status != StatusResponded {
		t.Errorf("status = %s, want RESPONDED", rec.Status)
	}
	topicID, _ := rec.Response["topicId"].(string)
	if topicID == "" {
		t.Fatal("response has no topicId")
	}

	rec, err = h.coord.Complete(ctx, rec.UUID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", rec.Status)
	}

	ok, err := h.coord.Validate(ctx, rec)
	if err != nil {
		t.Fatalf("Validate errored: %v", err)
	}
	if !ok {
		t.Error("Validate = false for a legitimate response")
	}
}

func TestRespondIdempotency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.keys.Register("did:relayer", CredentialMessageKey, Credentials{
		AccountID: "0.0.100",
		Wallet:    "wallet-1",
		Key:       "secret",
	})

	topicID, err := h.ledger.CreateTopic(ctx, "existing")
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}

	rec, err := h.coord.Request(ctx, RequestParams{
		Type:      SendMessage,
		PolicyID:  "pol-1",
		Owner:     "did:user:1",
		AccountID: "0.0.100",
		Document: map[string]interface{}{
			"topicId": topicID,
			"wallet":  "wallet-1",
			"message": map[string]interface{}{"kind": "vc", "body": "data"},
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := h.coord.Respond(ctx, rec.UUID, "did:relayer"); err != nil {
		t.Fatalf("first Respond failed: %v", err)
	}
	if got := h.ledger.TopicLen(topicID); got != 1 {
		t.Fatalf("messages after first respond = %d, want 1", got)
	}

	// Second respond must not submit again.
	if _, err := h.coord.Respond(ctx, rec.UUID, "did:relayer"); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("second Respond error = %v, want ErrAlreadyResponded", err)
	}
	if got := h.ledger.TopicLen(topicID); got != 1 {
		t.Errorf("messages after second respond = %d, want 1", got)
	}

	// Same after completion.
	if _, err := h.coord.Complete(ctx, rec.UUID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := h.coord.Respond(ctx, rec.UUID, "did:relayer"); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("respond after complete error = %v, want ErrAlreadyResponded", err)
	}
	if got := h.ledger.TopicLen(topicID); got != 1 {
		t.Errorf("messages after respond-after-complete = %d, want 1", got)
	}
}

func TestValidateBindingChecks(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testHarness, *Record) {
		h := newHarness(t)
		h.keys.Register("did:authority", CredentialRelayer, Credentials{
			AccountID:      "0.0.100",
			RelayerAccount: "0.0.1",
		})

		rec, err := h.coord.Request(ctx, RequestParams{
			Type:      TopicCreate,
			PolicyID:  "pol-1",
			Owner:     "did:user:1",
			AccountID: "0.0.100",
			Document:  map[string]interface{}{"relayerAccount": "0.0.1"},
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		rec, err = h.coord.Respond(ctx, rec.UUID, "did:authority")
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		return h, rec
	}

	t.Run("accountId mismatch is false, not an error", func(t *testing.T) {
		h, rec := setup(t)
		rec.Response["accountId"] = "0.0.200"

		ok, err := h.coord.Validate(ctx, rec)
		if err != nil {
			t.Fatalf("Validate errored: %v", err)
		}
		if ok {
			t.Error("Validate = true despite accountId mismatch")
		}
	})

	t.Run("relayerAccount mismatch is false", func(t *testing.T) {
		h, rec := setup(t)
		rec.Response["relayerAccount"] = "0.0.99"

		ok, err := h.coord.Validate(ctx, rec)
		if err != nil {
			t.Fatalf("Validate errored: %v", err)
		}
		if ok {
			t.Error("Validate = true despite relayerAccount mismatch")
		}
	})

	t.Run("missing response is false", func(t *testing.T) {
		h, rec := setup(t)
		rec.Response = nil

		ok, err := h.coord.Validate(ctx, rec)
		if err != nil || ok {
			t.Errorf("Validate = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("credential lookup failure is an error", func(t *testing.T) {
		h, rec := setup(t)
		rec.Response["respondedBy"] = "did:stranger"

		if _, err := h.coord.Validate(ctx, rec); err == nil {
			t.Error("expected infrastructure error for unknown responder")
		}
	})
}

func TestSendMessageSignature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.keys.Register("did:relayer", CredentialMessageKey, Credentials{
		AccountID: "0.0.100",
		Wallet:    "wallet-1",
		Key:       "signing-secret",
	})

	topicID, _ := h.ledger.CreateTopic(ctx, "t")
	rec, err := h.coord.Request(ctx, RequestParams{
		Type:      SendMessage,
		PolicyID:  "pol-1",
		Owner:     "did:user:1",
		AccountID: "0.0.100",
		Document: map[string]interface{}{
			"topicId": topicID,
			"wallet":  "wallet-1",
			"message": map[string]interface{}{"body": "original"},
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	rec, err = h.coord.Respond(ctx, rec.UUID, "did:relayer")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	t.Run("untampered response validates", func(t *testing.T) {
		ok, err := h.coord.Validate(ctx, rec)
		if err != nil || !ok {
			t.Errorf("Validate = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("tampered request document fails the signature check", func(t *testing.T) {
		rec.Document["message"] = map[string]interface{}{"body": "swapped"}

		ok, err := h.coord.Validate(ctx, rec)
		if err != nil {
			t.Fatalf("Validate errored: %v", err)
		}
		if ok {
			t.Error("Validate = true despite tampered payload")
		}
	})
}

func TestBatchSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.keys.Register("did:relayer", CredentialMessageKey, Credentials{
		AccountID: "0.0.100",
		Wallet:    "wallet-1",
		Key:       "secret",
	})

	topicID, _ := h.ledger.CreateTopic(ctx, "batch")
	rec, err := h.coord.Request(ctx, RequestParams{
		Type:      BatchSend,
		PolicyID:  "pol-1",
		Owner:     "did:user:1",
		AccountID: "0.0.100",
		Document: map[string]interface{}{
			"topicId": topicID,
			"wallet":  "wallet-1",
			"messages": []interface{}{
				map[string]interface{}{"n": 1},
				map[string]interface{}{"n": 2},
				map[string]interface{}{"n": 3},
			},
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	rec, err = h.coord.Respond(ctx, rec.UUID, "did:relayer")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	receipts, _ := rec.Response["receipts"].([]interface{})
	if len(receipts) != 3 {
		t.Errorf("receipts = %d, want 3", len(receipts))
	}
	if got := h.ledger.TopicLen(topicID); got != 3 {
		t.Errorf("topic messages = %d, want 3", got)
	}
}

func TestRoleSign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.keys.Register("did:signer", CredentialWallet, Credentials{
		AccountID: "0.0.100",
		Wallet:    "wallet-9",
		Key:       "role-key",
	})

	rec, err := h.coord.Request(ctx, RequestParams{
		Type:      RoleSign,
		PolicyID:  "pol-1",
		Owner:     "did:user:1",
		AccountID: "0.0.100",
		Document: map[string]interface{}{
			"wallet":     "wallet-9",
			"credential": map[string]interface{}{"role": "registrant"},
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	rec, err = h.coord.Respond(ctx, rec.UUID, "did:signer")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if sig, _ := rec.Response["signature"].(string); sig == "" {
		t.Fatal("response has no signature")
	}

	ok, err := h.coord.Validate(ctx, rec)
	if err != nil || !ok {
		t.Errorf("Validate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestCoordinatorStageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown action type is rejected at request", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.coord.Request(ctx, RequestParams{
			Type: "teleport", Owner: "o", AccountID: "a",
		})
		if err == nil {
			t.Error("expected unknown action type error")
		}
	})

	t.Run("complete before respond is rejected", func(t *testing.T) {
		h := newHarness(t)
		rec, err := h.coord.Request(ctx, RequestParams{
			Type: TopicCreate, Owner: "o", AccountID: "0.0.100",
			Document: map[string]interface{}{"relayerAccount": "0.0.1"},
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		if _, err := h.coord.Complete(ctx, rec.UUID); !errors.Is(err, ErrNotResponded) {
			t.Errorf("error = %v, want ErrNotResponded", err)
		}
	})

	t.Run("failed privileged operation marks the record FAILED", func(t *testing.T) {
		h := newHarness(t)
		h.keys.Register("did:relayer", CredentialMessageKey, Credentials{
			AccountID: "0.0.100", Wallet: "w", Key: "k",
		})

		rec, err := h.coord.Request(ctx, RequestParams{
			Type: SendMessage, Owner: "o", AccountID: "0.0.100",
			Document: map[string]interface{}{
				"topicId": "0.0.does-not-exist",
				"wallet":  "w",
				"message": "hi",
			},
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		if _, err := h.coord.Respond(ctx, rec.UUID, "did:relayer"); err == nil {
			t.Fatal("expected submission failure")
		}

		reloaded, err := loadRecord(ctx, h.store, rec.UUID)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if reloaded.Status != StatusFailed {
			t.Errorf("status = %s, want FAILED", reloaded.Status)
		}
	})
}
