package action

import (
	"context"
	"fmt"
	"sync"
)

// CredentialClass scopes a key lookup to one kind of signing material.
type CredentialClass string

const (
	// CredentialAccount is the party's ledger account key.
	CredentialAccount CredentialClass = "account"

	// CredentialMessageKey is the key used to sign topic messages.
	CredentialMessageKey CredentialClass = "message"

	// CredentialWallet is the party's wallet reference.
	CredentialWallet CredentialClass = "wallet"

	// CredentialRelayer is the relayer account used for topic creation.
	CredentialRelayer CredentialClass = "relayer"
)

// Credentials is the signing material returned for one identity and
// credential class.
//
// The coordinator never caches this beyond a single protocol stage.
type Credentials struct {
	AccountID      string
	Key            string
	Wallet         string
	RelayerAccount string
}

// KeyLoader resolves an identity reference to signing material scoped to
// one credential class.
type KeyLoader interface {
	Load(ctx context.Context, owner string, class CredentialClass) (Credentials, error)
}

// credKey indexes the static loader's table.
type credKey struct {
	owner string
	class CredentialClass
}

// StaticKeyLoader is a fixed-table KeyLoader for tests and local
// development.
type StaticKeyLoader struct {
	mu    sync.RWMutex
	creds map[credKey]Credentials
}

// NewStaticKeyLoader creates an empty static loader.
func NewStaticKeyLoader() *StaticKeyLoader {
	return &StaticKeyLoader{creds: make(map[credKey]Credentials)}
}

// Register binds credentials to an (owner, class) pair.
func (l *StaticKeyLoader) Register(owner string, class CredentialClass, creds Credentials) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creds[credKey{owner: owner, class: class}] = creds
}

// Load returns the registered credentials, or an error when the identity
// holds nothing for the requested class.
func (l *StaticKeyLoader) Load(ctx context.Context, owner string, class CredentialClass) (Credentials, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	creds, ok := l.creds[credKey{owner: owner, class: class}]
	if !ok {
		return Credentials{}, fmt.Errorf("no %s credentials for %s", class, owner)
	}
	return creds, nil
}
