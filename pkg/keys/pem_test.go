package keys

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPublicPEMRoundTrip(t *testing.T) {
	kp := testKeyPair(t)

	data, err := EncodePublicPEM(kp.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicPEM() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("unexpected PEM header: %q", string(data[:40]))
	}

	pub, err := DecodePublicPEM(data)
	if err != nil {
		t.Fatalf("DecodePublicPEM() error = %v", err)
	}
	if pub.N.Cmp(kp.PublicKey.N) != 0 || pub.E != kp.PublicKey.E {
		t.Error("decoded key differs from original")
	}
}

func TestPrivatePEMRoundTrip(t *testing.T) {
	kp := testKeyPair(t)

	data, err := EncodePrivatePEM(kp.PrivateKey)
	if err != nil {
		t.Fatalf("EncodePrivatePEM() error = %v", err)
	}

	priv, err := DecodePrivatePEM(data)
	if err != nil {
		t.Fatalf("DecodePrivatePEM() error = %v", err)
	}
	if priv.N.Cmp(kp.PrivateKey.N) != 0 {
		t.Error("decoded key differs from original")
	}
}

func TestDecodePrivatePEMAcceptsPKCS8(t *testing.T) {
	kp := testKeyPair(t)

	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	priv, err := DecodePrivatePEM(data)
	if err != nil {
		t.Fatalf("DecodePrivatePEM() error = %v", err)
	}
	if priv.N.Cmp(kp.PrivateKey.N) != 0 {
		t.Error("decoded key differs from original")
	}
}

func TestDecodeRejectsBadMaterial(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not PEM", data: "this is not a key"},
		{name: "empty", data: ""},
		{
			name: "wrong block type",
			data: "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n",
		},
		{
			name: "garbage body",
			data: "-----BEGIN PUBLIC KEY-----\nZ2FyYmFnZQ==\n-----END PUBLIC KEY-----\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePublicPEM([]byte(tt.data)); !errors.Is(err, ErrBadKeyMaterial) {
				t.Errorf("DecodePublicPEM() error = %v, want ErrBadKeyMaterial", err)
			}
			if _, err := DecodePrivatePEM([]byte(tt.data)); !errors.Is(err, ErrBadKeyMaterial) {
				t.Errorf("DecodePrivatePEM() error = %v, want ErrBadKeyMaterial", err)
			}
		})
	}
}

func TestKeyPairFileRoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "test.pub.pem")
	privPath := filepath.Join(dir, "test.key.pem")

	if err := SaveKeyPair(kp, pubPath, privPath); err != nil {
		t.Fatalf("SaveKeyPair() error = %v", err)
	}

	// Private key files must not be world readable.
	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key file mode = %o, want 0600", perm)
	}

	loaded, err := LoadKeyPair(pubPath, privPath)
	if err != nil {
		t.Fatalf("LoadKeyPair() error = %v", err)
	}
	if loaded.PublicKey.N.Cmp(kp.PublicKey.N) != 0 {
		t.Error("loaded public key differs from original")
	}
}

func TestLoadKeyPairMismatch(t *testing.T) {
	a := testKeyPair(t)
	b := testKeyPair(t)
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "a.pub.pem")
	privPath := filepath.Join(dir, "b.key.pem")

	if err := WritePublicKeyFile(pubPath, a.PublicKey); err != nil {
		t.Fatalf("WritePublicKeyFile() error = %v", err)
	}
	if err := WritePrivateKeyFile(privPath, b.PrivateKey); err != nil {
		t.Fatalf("WritePrivateKeyFile() error = %v", err)
	}

	if _, err := LoadKeyPair(pubPath, privPath); !errors.Is(err, ErrBadKeyMaterial) {
		t.Errorf("LoadKeyPair() error = %v, want ErrBadKeyMaterial", err)
	}
}

func TestLoadKeyPairMissingFile(t *testing.T) {
	if _, err := LoadKeyPair("/nonexistent/pub.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("LoadKeyPair() should fail for missing files")
	}
}
