// Package keys manages the RSA key material for comlink handshakes:
// generation, PEM encoding, file storage, and per-message OAEP
// encryption.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// DefaultKeyBits is the RSA modulus size used when the caller does not
// pick one. 2048-bit keys carry up to 190 bytes per OAEP block.
const DefaultKeyBits = 2048

// KeyPair holds an RSA key pair. Servers load a long-lived pair from
// PEM files; clients generate an ephemeral pair per connection.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA key pair. bits <= 0 selects
// DefaultKeyBits.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// Bits returns the modulus size of the pair's public key.
func (kp *KeyPair) Bits() int {
	if kp == nil || kp.PublicKey == nil {
		return 0
	}
	return kp.PublicKey.N.BitLen()
}

// Fingerprint returns the first 64 bits (16 hex chars) of
// SHA-256(public key PKIX DER). Log events carry fingerprints so key
// material itself never appears in logs.
func Fingerprint(pub *rsa.PublicKey) string {
	if pub == nil {
		return ""
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:8])
}
