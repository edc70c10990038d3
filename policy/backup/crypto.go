// Package backup implements the policy state backup/diff engine:
// encrypted, file-persisted snapshots of a policy's replicated
// collections with incremental diff propagation for warm restart and
// migration.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// keySize is the AES-256 key length in bytes.
	keySize = 32

	// nonceSize is the GCM nonce length in bytes.
	nonceSize = 12

	// saltSize is the scrypt salt length in bytes.
	saltSize = 32

	// scrypt cost parameters (N=2^15, interactive-grade).
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// ErrCiphertextTooShort reports an envelope smaller than its fixed
// header, which cannot possibly decrypt.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// encrypt seals plaintext with AES-256-GCM under a key derived from the
// passphrase via scrypt.
//
// The envelope layout is salt || nonce || ciphertext: a fresh salt and
// nonce per call, so identical plaintexts never produce identical
// envelopes.
func encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, saltSize+nonceSize+len(sealed))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return envelope, nil
}

// decrypt opens an envelope produced by encrypt. A tampered or
// wrong-passphrase envelope fails GCM authentication.
func decrypt(envelope []byte, passphrase string) ([]byte, error) {
	if len(envelope) < saltSize+nonceSize {
		return nil, ErrCiphertextTooShort
	}

	salt := envelope[:saltSize]
	nonce := envelope[saltSize : saltSize+nonceSize]
	sealed := envelope[saltSize+nonceSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// deriveKey stretches a passphrase into an AES-256 key via scrypt.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
