package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM block types for comlink key files.
const (
	publicBlockType  = "PUBLIC KEY"
	privateBlockType = "RSA PRIVATE KEY"
)

// Key material errors.
var (
	// ErrBadKeyMaterial means PEM data could not be parsed into the
	// expected RSA key. Startup treats this as fatal for the component
	// holding the key; a handshake treats it as fatal for that
	// connection only.
	ErrBadKeyMaterial = errors.New("bad key material")
)

// EncodePublicPEM encodes an RSA public key as a PKIX "PUBLIC KEY"
// PEM block. This is the textual form carried by the bootstrap frame.
func EncodePublicPEM(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, ErrKeyUnavailable
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  publicBlockType,
		Bytes: der,
	}), nil
}

// DecodePublicPEM decodes a PEM-encoded RSA public key. PKIX
// "PUBLIC KEY" blocks are canonical; PKCS#1 "RSA PUBLIC KEY" blocks
// are accepted for interoperability.
func DecodePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrBadKeyMaterial
	}

	switch block.Type {
	case publicBlockType:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrBadKeyMaterial)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrBadKeyMaterial, block.Type)
	}
}

// EncodePrivatePEM encodes an RSA private key as a PKCS#1
// "RSA PRIVATE KEY" PEM block.
func EncodePrivatePEM(priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyUnavailable
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  privateBlockType,
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}), nil
}

// DecodePrivatePEM decodes a PEM-encoded RSA private key. PKCS#1
// "RSA PRIVATE KEY" blocks are canonical; PKCS#8 "PRIVATE KEY" blocks
// are accepted when they wrap an RSA key.
func DecodePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrBadKeyMaterial
	}

	switch block.Type {
	case privateBlockType:
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
		}
		return priv, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrBadKeyMaterial)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrBadKeyMaterial, block.Type)
	}
}

// WritePublicKeyFile writes a public key to a PEM file.
func WritePublicKeyFile(path string, pub *rsa.PublicKey) error {
	data, err := EncodePublicPEM(pub)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadPublicKeyFile reads a public key from a PEM file.
func ReadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePublicPEM(data)
}

// WritePrivateKeyFile writes a private key to a PEM file with
// restricted permissions.
func WritePrivateKeyFile(path string, priv *rsa.PrivateKey) error {
	data, err := EncodePrivatePEM(priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadPrivateKeyFile reads a private key from a PEM file.
func ReadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePrivatePEM(data)
}

// LoadKeyPair reads a key pair from its public and private PEM files
// and verifies the two halves belong together.
func LoadKeyPair(pubPath, privPath string) (*KeyPair, error) {
	pub, err := ReadPublicKeyFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	priv, err := ReadPrivateKeyFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
		return nil, fmt.Errorf("%w: public and private keys do not match", ErrBadKeyMaterial)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// SaveKeyPair writes both halves of a key pair to PEM files.
func SaveKeyPair(kp *KeyPair, pubPath, privPath string) error {
	if kp == nil {
		return ErrKeyUnavailable
	}
	if err := WritePublicKeyFile(pubPath, kp.PublicKey); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	if err := WritePrivateKeyFile(privPath, kp.PrivateKey); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}
