package handshake

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// sessionSecretSize is the length of the random secret carried by the
// session_key command.
const sessionSecretSize = 32

// sessionSalt binds the key derivation to this protocol.
var sessionSalt = []byte("comlink-session-v1")

// sessionCipher holds the directional AEADs derived from one session
// secret. Each direction keys its own cipher and counts its own
// nonces; TCP keeps frames ordered per direction, so the counters on
// both ends stay aligned.
//
// seal is serialized by the transport's per-connection write lock and
// open runs on the receive goroutine, so neither needs locking of its
// own.
type sessionCipher struct {
	sealer cipher.AEAD
	opener cipher.AEAD

	sendNonce   [chacha20poly1305.NonceSize]byte
	recvNonce   [chacha20poly1305.NonceSize]byte
	sendCounter uint64
	recvCounter uint64

	// confirmed flips when the first inbound stream frame opens,
	// ending the window where RSA frames may still trail in.
	confirmed bool
}

func newSessionCipher(secret []byte, role log.Role) (*sessionCipher, error) {
	if len(secret) != sessionSecretSize {
		return nil, fmt.Errorf("session secret is %d bytes, want %d", len(secret), sessionSecretSize)
	}

	clientKey, err := deriveSessionKey(secret, "client")
	if err != nil {
		return nil, err
	}
	serverKey, err := deriveSessionKey(secret, "server")
	if err != nil {
		return nil, err
	}

	// Each side seals with its own label's key and opens with the
	// peer's.
	sealKey, openKey := serverKey, clientKey
	if role == log.RoleClient {
		sealKey, openKey = clientKey, serverKey
	}

	sealer, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return nil, err
	}
	opener, err := chacha20poly1305.New(openKey)
	if err != nil {
		return nil, err
	}
	return &sessionCipher{sealer: sealer, opener: opener}, nil
}

func deriveSessionKey(secret []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, sessionSalt, []byte(label))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", label, err)
	}
	return key, nil
}

func (s *sessionCipher) seal(frame []byte) ([]byte, error) {
	binary.BigEndian.PutUint64(s.sendNonce[4:], s.sendCounter)
	s.sendCounter++
	return s.sealer.Seal(nil, s.sendNonce[:], frame, nil), nil
}

// open decrypts one inbound frame. The counter only advances on
// success, so a failed trial during the upgrade window keeps the
// sequence aligned.
func (s *sessionCipher) open(frame []byte) ([]byte, error) {
	binary.BigEndian.PutUint64(s.recvNonce[4:], s.recvCounter)
	plain, err := s.opener.Open(nil, s.recvNonce[:], frame, nil)
	if err != nil {
		return nil, fmt.Errorf("open stream frame: %w", err)
	}
	s.recvCounter++
	s.confirmed = true
	return plain, nil
}

// locked reports whether the stream cipher has carried traffic, after
// which RSA fallback is no longer acceptable.
func (s *sessionCipher) locked() bool {
	return s.confirmed
}

// decodeSessionSecret extracts the secret from a session_key command.
func decodeSessionSecret(cmd wire.Command) ([]byte, error) {
	if len(cmd.Args) != 1 {
		return nil, fmt.Errorf("session frame carries %d arguments, want 1", len(cmd.Args))
	}
	secret, err := base64.StdEncoding.DecodeString(cmd.Args[0])
	if err != nil {
		return nil, fmt.Errorf("decode session secret: %w", err)
	}
	if len(secret) != sessionSecretSize {
		return nil, fmt.Errorf("session secret is %d bytes, want %d", len(secret), sessionSecretSize)
	}
	return secret, nil
}

// sessionTable tracks per-connection stream ciphers on the server.
type sessionTable struct {
	mu      sync.RWMutex
	ciphers map[uint64]*sessionCipher
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		ciphers: make(map[uint64]*sessionCipher),
	}
}

func (t *sessionTable) get(id uint64) (*sessionCipher, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.ciphers[id]
	return c, ok
}

func (t *sessionTable) put(id uint64, c *sessionCipher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ciphers[id] = c
}

func (t *sessionTable) drop(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ciphers, id)
}
