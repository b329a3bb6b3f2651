package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Encryption errors.
var (
	// ErrKeyUnavailable means a cryptographic operation ran before the
	// key it needs existed: encrypting before the peer's public key
	// arrived, or decrypting without a local private key. Operations
	// fail loudly rather than pass data through unencrypted.
	ErrKeyUnavailable = errors.New("key unavailable")

	// ErrPayloadTooLarge means a frame exceeds the single-block OAEP
	// capacity of the encrypting key. The frame is not sent.
	ErrPayloadTooLarge = errors.New("payload too large for key")
)

// MaxPayload returns the largest plaintext a single OAEP block under
// pub can carry: modulusBytes - 2*SHA-256 size - 2.
func MaxPayload(pub *rsa.PublicKey) int {
	if pub == nil {
		return 0
	}
	return pub.Size() - 2*sha256.Size - 2
}

// Encrypt encrypts plaintext with RSA-OAEP (SHA-256) under the peer's
// public key. Oversize payloads are rejected before touching the
// cipher so callers see ErrPayloadTooLarge, not a generic RSA error.
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrKeyUnavailable
	}
	if limit := MaxPayload(pub); len(plaintext) > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(plaintext), limit)
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt failed: %w", err)
	}
	return ciphertext, nil
}

// Decrypt decrypts an RSA-OAEP (SHA-256) ciphertext with the local
// private key.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyUnavailable
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt failed: %w", err)
	}
	return plaintext, nil
}
