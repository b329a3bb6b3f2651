package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/comlink-protocol/comlink-go/pkg/discovery"
	"github.com/comlink-protocol/comlink-go/pkg/handshake"
	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// ClientService maintains one connection to a comlink server: dialing,
// key exchange and command dispatch behind one Connect/Close lifecycle.
// After Close, or after the server drops the connection, Connect may
// be called again; each connection uses a fresh key pair.
type ClientService struct {
	mu sync.RWMutex

	config ClientConfig
	state  ServiceState

	gateway *handshake.ClientGateway
	client  *transport.Client

	// done closes when the current connection ends, so Connect can
	// tell a failed key exchange from a slow one.
	done        chan struct{}
	established bool

	onConnect    []func(conn *transport.Conn)
	onDisconnect []func(conn *transport.Conn, err error)
	onCommand    []func(conn *transport.Conn, cmd wire.Command)
}

// NewClientService creates a new client service.
func NewClientService(config ClientConfig) (*ClientService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	svc := &ClientService{
		config: config,
		state:  StateIdle,
	}

	gateway, err := handshake.NewClientGateway(handshake.ClientConfig{
		KeyBits:       config.KeyBits,
		SessionCipher: config.SessionCipher,
		OnComplete:    svc.dispatchConnect,
		Logger:        config.Logger,
	})
	if err != nil {
		return nil, err
	}
	svc.gateway = gateway

	return svc, nil
}

// State returns the current service state.
func (s *ClientService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnConnect registers a handler that fires once the key exchange
// completes and the connection is ready for commands.
func (s *ClientService) OnConnect(fn func(conn *transport.Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers a handler that fires when an established
// connection ends. err is the terminal cause, nil for a clean close.
func (s *ClientService) OnDisconnect(fn func(conn *transport.Conn, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// OnCommand registers a handler for application commands. Reserved
// key exchange commands are filtered out before delivery.
func (s *ClientService) OnCommand(fn func(conn *transport.Conn, cmd wire.Command)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommand = append(s.onCommand, fn)
}

// Connect dials the configured server and waits for the key exchange
// to complete. When it returns nil the connection carries encrypted
// application commands.
func (s *ClientService) Connect(ctx context.Context) error {
	return s.connect(ctx, s.config.Address, s.config.Port)
}

// ConnectService connects to an mDNS-discovered server. The server's
// advertised protocol version is checked before dialing; its key
// fingerprint is checked against the advertised one after the
// exchange, so a server presenting the wrong key is rejected.
func (s *ClientService) ConnectService(ctx context.Context, svc *discovery.Service) error {
	if err := checkVersionCompatibility(svc.Version); err != nil {
		return err
	}

	address := strings.TrimSuffix(svc.Host, ".")
	if len(svc.Addresses) > 0 {
		address = svc.Addresses[0]
	}

	if err := s.connect(ctx, address, svc.Port); err != nil {
		return err
	}

	if svc.Fingerprint != "" {
		if fp := s.ServerFingerprint(); fp != svc.Fingerprint {
			_ = s.Close()
			return fmt.Errorf("%w: advertised %s, presented %s", ErrFingerprintMismatch, svc.Fingerprint, fp)
		}
	}
	return nil
}

func (s *ClientService) connect(ctx context.Context, address string, port int) error {
	s.mu.Lock()
	if s.state == StateStarting || s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	done := make(chan struct{})
	s.done = done
	s.established = false
	s.mu.Unlock()

	client, err := transport.NewClient(transport.ClientConfig{
		Address:    address,
		Port:       port,
		SendPacing: s.config.SendPacing,
		Hooks: transport.MergeHooks(s.gateway.Hooks(), transport.Hooks{
			OnCommand:    s.dispatchCommand,
			OnDisconnect: s.dispatchDisconnect,
		}),
		Logger: s.config.Logger,
	})
	if err != nil {
		s.setState(StateStopped)
		return err
	}

	if err := client.Connect(ctx); err != nil {
		s.setState(StateStopped)
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	select {
	case <-s.gateway.Ready():
	case <-done:
		s.setState(StateStopped)
		return ErrHandshakeFailed
	case <-ctx.Done():
		_ = client.Close()
		s.setState(StateStopped)
		return ctx.Err()
	}

	s.setState(StateRunning)
	return nil
}

// Close tears down the connection. Closing an unconnected service
// returns ErrNotConnected.
func (s *ClientService) Close() error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state = StateStopping
	client := s.client
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	s.setState(StateStopped)
	return nil
}

// Execute sends a command over the established connection.
func (s *ClientService) Execute(name string, args ...string) error {
	s.mu.RLock()
	client, state := s.client, s.state
	s.mu.RUnlock()

	if state != StateRunning || client == nil {
		return ErrNotConnected
	}
	return client.Execute(name, args...)
}

// Conn returns the live connection, or nil when unconnected.
func (s *ClientService) Conn() *transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil
	}
	return s.client.Conn()
}

// ServerFingerprint returns the fingerprint of the server's public
// key, or "" before the key exchange completes.
func (s *ClientService) ServerFingerprint() string {
	serverKey := s.gateway.ServerKey()
	if serverKey == nil {
		return ""
	}
	return keys.Fingerprint(serverKey)
}

func (s *ClientService) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// dispatchConnect runs as the gateway's OnComplete callback.
func (s *ClientService) dispatchConnect(conn *transport.Conn) {
	s.mu.Lock()
	s.established = true
	handlers := s.onConnect
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(conn)
	}
}

func (s *ClientService) dispatchDisconnect(conn *transport.Conn, err error) {
	s.mu.Lock()
	wasEstablished := s.established
	s.established = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.state == StateRunning {
		s.state = StateStopped
	}
	handlers := s.onDisconnect
	s.mu.Unlock()

	if !wasEstablished {
		return
	}
	for _, fn := range handlers {
		fn(conn, err)
	}
}

func (s *ClientService) dispatchCommand(conn *transport.Conn, cmd wire.Command) {
	if cmd.IsReserved() {
		// Key exchange frames are gateway business.
		return
	}

	s.mu.RLock()
	handlers := s.onCommand
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(conn, cmd)
	}
}
