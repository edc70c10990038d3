package action

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Type selects the action variant.
type Type string

const (
	// TopicCreate provisions a new ledger topic via a relayer account.
	TopicCreate Type = "topic-create"

	// SendMessage submits one message to an existing topic.
	SendMessage Type = "send-message"

	// BatchSend submits multiple messages to an existing topic.
	BatchSend Type = "batch-send"

	// RoleSign signs a role credential with the signing party's key.
	RoleSign Type = "role-sign"
)

// variant describes one action type's protocol specialization.
//
// Variants form a closed table: every action type shares the same
// four-stage protocol skeleton and differs only in the document payload
// shape, the privileged operation performed at respond time, and the
// binding fields checked by validate.
type variant struct {
	// credentialClass is the signing material the responding party loads.
	credentialClass CredentialClass

	// bindingFields are the response fields that must match the request's
	// committed identifiers exactly for validate to pass. "accountId" is
	// always present plus one credential-scope field.
	bindingFields []string

	// respond performs the privileged operation with the responder's
	// credentials and returns the result descriptor.
	respond func(ctx context.Context, c *Coordinator, rec *Record, creds Credentials) (map[string]interface{}, error)
}

// variants is the closed variant table.
//
// Topic creation binds on accountId plus relayerAccount; the message and
// signing variants bind on accountId plus wallet. The binding-field set
// is per-variant configuration, not a universal constant.
var variants = map[Type]*variant{
	TopicCreate: {
		credentialClass: CredentialRelayer,
		bindingFields:   []string{"accountId", "relayerAccount"},
		respond:         respondTopicCreate,
	},
	SendMessage: {
		credentialClass: CredentialMessageKey,
		bindingFields:   []string{"accountId", "wallet"},
		respond:         respondSendMessage,
	},
	BatchSend: {
		credentialClass: CredentialMessageKey,
		bindingFields:   []string{"accountId", "wallet"},
		respond:         respondBatchSend,
	},
	RoleSign: {
		credentialClass: CredentialWallet,
		bindingFields:   []string{"accountId", "wallet"},
		respond:         respondRoleSign,
	},
}

// variantFor resolves an action type against the closed table.
func variantFor(t Type) (*variant, error) {
	v, ok := variants[t]
	if !ok {
		return nil, fmt.Errorf("unknown action type: %s", t)
	}
	return v, nil
}

// respondTopicCreate provisions the requested topic through the ledger
// using the responder's relayer account.
func respondTopicCreate(ctx context.Context, c *Coordinator, rec *Record, creds Credentials) (map[string]interface{}, error) {
	memo, _ := rec.Document["memo"].(string)
	topicID, err := c.ledger.CreateTopic(ctx, memo)
	if err != nil {
		return nil, fmt.Errorf("topic creation failed: %w", err)
	}
	return map[string]interface{}{
		"topicId":        topicID,
		"accountId":      creds.AccountID,
		"relayerAccount": creds.RelayerAccount,
	}, nil
}

// respondSendMessage signs and submits the request's message to its topic.
func respondSendMessage(ctx context.Context, c *Coordinator, rec *Record, creds Credentials) (map[string]interface{}, error) {
	topicID, _ := rec.Document["topicId"].(string)
	if topicID == "" {
		return nil, fmt.Errorf("send-message request %s has no topicId", rec.UUID)
	}

	payload, err := json.Marshal(rec.Document["message"])
	if err != nil {
		return nil, fmt.Errorf("failed to encode message payload: %w", err)
	}

	result, err := c.ledger.Submit(ctx, topicID, payload)
	if err != nil {
		return nil, fmt.Errorf("message submission failed: %w", err)
	}
	return map[string]interface{}{
		"messageId":      result.ID,
		"topicId":        result.TopicID,
		"sequenceNumber": result.SequenceNumber,
		"accountId":      creds.AccountID,
		"wallet":         creds.Wallet,
		"signature":      sign(payload, creds.Key),
	}, nil
}

// respondBatchSend submits every message in the request's batch, in
// order, and records each receipt.
func respondBatchSend(ctx context.Context, c *Coordinator, rec *Record, creds Credentials) (map[string]interface{}, error) {
	topicID, _ := rec.Document["topicId"].(string)
	if topicID == "" {
		return nil, fmt.Errorf("batch-send request %s has no topicId", rec.UUID)
	}

	batch, ok := rec.Document["messages"].([]interface{})
	if !ok || len(batch) == 0 {
		return nil, fmt.Errorf("batch-send request %s has no messages", rec.UUID)
	}

	receipts := make([]interface{}, 0, len(batch))
	for i, msg := range batch {
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode batch message %d: %w", i, err)
		}
		result, err := c.ledger.Submit(ctx, topicID, payload)
		if err != nil {
			return nil, fmt.Errorf("batch submission failed at message %d: %w", i, err)
		}
		receipts = append(receipts, map[string]interface{}{
			"messageId":      result.ID,
			"sequenceNumber": result.SequenceNumber,
		})
	}

	return map[string]interface{}{
		"topicId":   topicID,
		"receipts":  receipts,
		"accountId": creds.AccountID,
		"wallet":    creds.Wallet,
	}, nil
}

// respondRoleSign signs the role credential document with the signing
// party's wallet key. No ledger interaction.
func respondRoleSign(ctx context.Context, c *Coordinator, rec *Record, creds Credentials) (map[string]interface{}, error) {
	payload, err := json.Marshal(rec.Document["credential"])
	if err != nil {
		return nil, fmt.Errorf("failed to encode role credential: %w", err)
	}
	return map[string]interface{}{
		"signature": sign(payload, creds.Key),
		"accountId": creds.AccountID,
		"wallet":    creds.Wallet,
	}, nil
}

// sign produces a detached HMAC-SHA256 signature over the payload.
func sign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
