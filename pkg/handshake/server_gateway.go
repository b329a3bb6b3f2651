package handshake

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// ServerConfig configures a server-side handshake gateway.
type ServerConfig struct {
	// KeyPair is the server's long-lived key pair. Required.
	KeyPair *keys.KeyPair

	// SessionCipher accepts stream cipher upgrades from clients.
	// Connections whose client never upgrades stay on RSA.
	SessionCipher bool

	// OnComplete fires when a connection's key exchange finishes and
	// encrypted traffic can flow to it.
	OnComplete func(conn *transport.Conn)

	// Logger for handshake events (optional).
	Logger log.Logger
}

// ServerGateway performs the server side of the key exchange and
// encrypts traffic for every connection. The server announces one
// long-lived public key; each client answers with a fresh one, stored
// here keyed by connection ID. A connection's entry disappears when it
// disconnects; IDs are never reused, so entries cannot collide.
type ServerGateway struct {
	keyPair    *keys.KeyPair
	logger     log.Logger
	onComplete func(conn *transport.Conn)

	mu    sync.RWMutex
	peers map[uint64]*rsa.PublicKey

	// sessions is nil unless SessionCipher is enabled.
	sessions *sessionTable
}

// NewServerGateway creates a gateway around the server's key pair.
func NewServerGateway(config ServerConfig) (*ServerGateway, error) {
	if config.KeyPair == nil || config.KeyPair.PrivateKey == nil || config.KeyPair.PublicKey == nil {
		return nil, fmt.Errorf("%w: server key pair is required", keys.ErrKeyUnavailable)
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	g := &ServerGateway{
		keyPair:    config.KeyPair,
		logger:     config.Logger,
		onComplete: config.OnComplete,
		peers:      make(map[uint64]*rsa.PublicKey),
	}
	if config.SessionCipher {
		g.sessions = newSessionTable()
	}
	return g, nil
}

// Hooks returns the transport hooks implementing the exchange. Merge
// them ahead of application hooks so the gateway observes connections
// first.
func (g *ServerGateway) Hooks() transport.Hooks {
	return transport.Hooks{
		OnConnect:    g.onConnect,
		OnBootstrap:  g.onBootstrap,
		OnCommand:    g.onCommand,
		OnDisconnect: g.onDisconnect,
		Encrypt:      g.encrypt,
		Decrypt:      g.decrypt,
	}
}

// PeerKey returns the stored public key of a connection.
func (g *ServerGateway) PeerKey(connID uint64) (*rsa.PublicKey, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pub, ok := g.peers[connID]
	return pub, ok
}

// HasPeerKey reports whether a connection has completed the exchange.
func (g *ServerGateway) HasPeerKey(connID uint64) bool {
	_, ok := g.PeerKey(connID)
	return ok
}

// PeerCount returns the number of connections with a stored key.
func (g *ServerGateway) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.peers)
}

func (g *ServerGateway) onConnect(conn *transport.Conn) {
	if err := announceKey(conn, g.keyPair.PublicKey); err != nil {
		logGatewayError(g.logger, conn, log.RoleServer, err, "announce public key")
		conn.Close()
		return
	}
	logHandshake(g.logger, conn, log.RoleServer, log.DirectionOut, g.keyPair.PublicKey, false)
}

func (g *ServerGateway) onBootstrap(conn *transport.Conn, cmd wire.Command) {
	pub, err := parsePeerKey(cmd)
	if err != nil {
		// A malformed key poisons only this connection.
		logGatewayError(g.logger, conn, log.RoleServer, err, "parse peer key")
		conn.Close()
		return
	}

	g.mu.Lock()
	_, rekey := g.peers[conn.ID()]
	g.peers[conn.ID()] = pub
	g.mu.Unlock()

	logHandshake(g.logger, conn, log.RoleServer, log.DirectionIn, pub, true)
	if !rekey && g.onComplete != nil {
		g.onComplete(conn)
	}
}

// onCommand consumes the reserved session_key command. Anything else
// belongs to the application and is ignored here.
func (g *ServerGateway) onCommand(conn *transport.Conn, cmd wire.Command) {
	if cmd.Name != wire.SessionCommand {
		return
	}
	if g.sessions == nil {
		logGatewayError(g.logger, conn, log.RoleServer, errors.New("session cipher disabled"), "session upgrade")
		return
	}

	secret, err := decodeSessionSecret(cmd)
	if err != nil {
		logGatewayError(g.logger, conn, log.RoleServer, err, "session upgrade")
		conn.Close()
		return
	}
	cipher, err := newSessionCipher(secret, log.RoleServer)
	if err != nil {
		logGatewayError(g.logger, conn, log.RoleServer, err, "session upgrade")
		conn.Close()
		return
	}

	g.sessions.put(conn.ID(), cipher)
	logSessionUpgrade(g.logger, conn, log.RoleServer)
}

func (g *ServerGateway) onDisconnect(conn *transport.Conn, _ error) {
	g.mu.Lock()
	delete(g.peers, conn.ID())
	g.mu.Unlock()
	if g.sessions != nil {
		g.sessions.drop(conn.ID())
	}
}

func (g *ServerGateway) encrypt(connID uint64, frame []byte) ([]byte, error) {
	if g.sessions != nil {
		if cipher, ok := g.sessions.get(connID); ok {
			return cipher.seal(frame)
		}
	}
	pub, ok := g.PeerKey(connID)
	if !ok {
		return nil, keys.ErrKeyUnavailable
	}
	return keys.Encrypt(pub, frame)
}

func (g *ServerGateway) decrypt(connID uint64, frame []byte) ([]byte, error) {
	if g.sessions != nil {
		if cipher, ok := g.sessions.get(connID); ok {
			return cipher.open(frame)
		}
	}
	return keys.Decrypt(g.keyPair.PrivateKey, frame)
}
