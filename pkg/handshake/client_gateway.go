package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// ClientConfig configures a client-side handshake gateway.
type ClientConfig struct {
	// KeyBits is the size of the throwaway key pair generated per
	// connection. 0 uses keys.DefaultKeyBits.
	KeyBits int

	// SessionCipher upgrades the connection to a stream cipher once
	// the server key arrives. The server must enable it too.
	SessionCipher bool

	// OnComplete fires when the key exchange finishes and encrypted
	// traffic can flow.
	OnComplete func(conn *transport.Conn)

	// Logger for handshake events (optional).
	Logger log.Logger
}

// ClientGateway performs the client side of the key exchange. Each
// connection gets a fresh key pair, generated in OnConnect and never
// persisted; the server's key fills a single slot.
type ClientGateway struct {
	keyBits        int
	sessionEnabled bool
	logger         log.Logger
	onComplete     func(conn *transport.Conn)

	mu        sync.RWMutex
	keyPair   *keys.KeyPair
	serverKey *rsa.PublicKey
	session   *sessionCipher
	ready     chan struct{}
}

// NewClientGateway creates a client gateway.
func NewClientGateway(config ClientConfig) (*ClientGateway, error) {
	if config.KeyBits < 0 {
		return nil, fmt.Errorf("invalid key size %d", config.KeyBits)
	}
	if config.KeyBits == 0 {
		config.KeyBits = keys.DefaultKeyBits
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	return &ClientGateway{
		keyBits:        config.KeyBits,
		sessionEnabled: config.SessionCipher,
		logger:         config.Logger,
		onComplete:     config.OnComplete,
		ready:          make(chan struct{}),
	}, nil
}

// Hooks returns the transport hooks implementing the exchange. Merge
// them ahead of application hooks.
func (g *ClientGateway) Hooks() transport.Hooks {
	return transport.Hooks{
		OnConnect:    g.onConnect,
		OnBootstrap:  g.onBootstrap,
		OnDisconnect: g.onDisconnect,
		Encrypt:      g.encrypt,
		Decrypt:      g.decrypt,
	}
}

// Ready returns a channel that closes when the server key is stored
// and encrypted commands can be sent. Read it after Connect returns;
// each connection gets a fresh channel.
func (g *ClientGateway) Ready() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready
}

// ServerKey returns the stored server key, or nil before the exchange
// completes.
func (g *ClientGateway) ServerKey() *rsa.PublicKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.serverKey
}

func (g *ClientGateway) onConnect(conn *transport.Conn) {
	keyPair, err := keys.GenerateKeyPair(g.keyBits)
	if err != nil {
		logGatewayError(g.logger, conn, log.RoleClient, err, "generate key pair")
		conn.Close()
		return
	}

	g.mu.Lock()
	g.keyPair = keyPair
	g.serverKey = nil
	g.session = nil
	g.ready = make(chan struct{})
	g.mu.Unlock()

	if err := announceKey(conn, keyPair.PublicKey); err != nil {
		logGatewayError(g.logger, conn, log.RoleClient, err, "announce public key")
		conn.Close()
		return
	}
	logHandshake(g.logger, conn, log.RoleClient, log.DirectionOut, keyPair.PublicKey, false)
}

func (g *ClientGateway) onBootstrap(conn *transport.Conn, cmd wire.Command) {
	pub, err := parsePeerKey(cmd)
	if err != nil {
		logGatewayError(g.logger, conn, log.RoleClient, err, "parse server key")
		conn.Close()
		return
	}

	g.mu.Lock()
	rekey := g.serverKey != nil
	g.serverKey = pub
	ready := g.ready
	g.mu.Unlock()

	if rekey {
		logHandshake(g.logger, conn, log.RoleClient, log.DirectionIn, pub, true)
		return
	}

	if g.sessionEnabled {
		if err := g.upgradeSession(conn); err != nil {
			logGatewayError(g.logger, conn, log.RoleClient, err, "session upgrade")
			conn.Close()
			return
		}
	}

	logHandshake(g.logger, conn, log.RoleClient, log.DirectionIn, pub, true)
	close(ready)
	if g.onComplete != nil {
		g.onComplete(conn)
	}
}

// upgradeSession sends a fresh session secret as the connection's last
// RSA frame and installs the stream cipher locally.
func (g *ClientGateway) upgradeSession(conn *transport.Conn) error {
	secret := make([]byte, sessionSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate session secret: %w", err)
	}

	// The encrypt hook recognizes the session frame and lets it
	// through under RSA while all other traffic waits for Ready.
	if err := conn.Execute(wire.SessionCommand, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return err
	}

	cipher, err := newSessionCipher(secret, log.RoleClient)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.session = cipher
	g.mu.Unlock()

	logSessionUpgrade(g.logger, conn, log.RoleClient)
	return nil
}

func (g *ClientGateway) onDisconnect(_ *transport.Conn, _ error) {
	g.mu.Lock()
	g.keyPair = nil
	g.serverKey = nil
	g.session = nil
	g.mu.Unlock()
}

func (g *ClientGateway) encrypt(_ uint64, frame []byte) ([]byte, error) {
	g.mu.RLock()
	session := g.session
	serverKey := g.serverKey
	g.mu.RUnlock()

	if session != nil {
		return session.seal(frame)
	}
	if serverKey == nil {
		return nil, keys.ErrKeyUnavailable
	}
	if g.sessionEnabled && !wire.IsSessionFrame(frame) {
		// The upgrade is in flight; everything but the session frame
		// itself waits for the stream cipher.
		return nil, keys.ErrKeyUnavailable
	}
	return keys.Encrypt(serverKey, frame)
}

func (g *ClientGateway) decrypt(_ uint64, frame []byte) ([]byte, error) {
	g.mu.RLock()
	session := g.session
	keyPair := g.keyPair
	g.mu.RUnlock()

	if session != nil {
		plain, err := session.open(frame)
		if err == nil {
			return plain, nil
		}
		if session.locked() {
			return nil, err
		}
		// The server may still be flushing RSA frames sent before the
		// upgrade reached it. Fall back until the first stream frame
		// arrives, which locks the cipher in.
	}
	if keyPair == nil {
		return nil, keys.ErrKeyUnavailable
	}
	return keys.Decrypt(keyPair.PrivateKey, frame)
}
