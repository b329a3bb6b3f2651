package service

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/comlink-protocol/comlink-go/pkg/discovery"
	"github.com/comlink-protocol/comlink-go/pkg/handshake"
	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// ServerService runs a comlink server: transport, key exchange and
// optional mDNS advertisement behind one Start/Stop lifecycle.
type ServerService struct {
	mu sync.RWMutex

	config ServerConfig
	state  ServiceState

	gateway    *handshake.ServerGateway
	server     *transport.Server
	advertiser *discovery.Advertiser

	// Connections whose key exchange completed. OnDisconnect only
	// fires for these, so applications never see a disconnect for a
	// peer they were never told about.
	established map[uint64]bool

	onConnect    []func(conn *transport.Conn)
	onDisconnect []func(conn *transport.Conn, err error)
	onCommand    []func(conn *transport.Conn, cmd wire.Command)
}

// NewServerService creates a new server service.
func NewServerService(config ServerConfig) (*ServerService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	svc := &ServerService{
		config:      config,
		state:       StateIdle,
		established: make(map[uint64]bool),
	}

	gateway, err := handshake.NewServerGateway(handshake.ServerConfig{
		KeyPair:       config.KeyPair,
		SessionCipher: config.SessionCipher,
		OnComplete:    svc.dispatchConnect,
		Logger:        config.Logger,
	})
	if err != nil {
		return nil, err
	}
	svc.gateway = gateway

	server, err := transport.NewServer(transport.ServerConfig{
		BindAddress:    config.BindAddress,
		Port:           config.Port,
		Backlog:        config.Backlog,
		MaxConnections: config.MaxConnections,
		SendPacing:     config.SendPacing,
		Hooks: transport.MergeHooks(gateway.Hooks(), transport.Hooks{
			OnCommand:    svc.dispatchCommand,
			OnDisconnect: svc.dispatchDisconnect,
		}),
		Logger: config.Logger,
	})
	if err != nil {
		return nil, err
	}
	svc.server = server

	if config.Advertise {
		svc.advertiser = discovery.NewAdvertiser(config.Discovery)
	}

	return svc, nil
}

// State returns the current service state.
func (s *ServerService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnConnect registers a handler that fires once a connection's key
// exchange completes and the connection is ready for commands.
func (s *ServerService) OnConnect(fn func(conn *transport.Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers a handler that fires when an established
// connection ends. err is the terminal cause, nil for a clean close.
func (s *ServerService) OnDisconnect(fn func(conn *transport.Conn, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// OnCommand registers a handler for application commands. Reserved
// key exchange commands are filtered out before delivery.
func (s *ServerService) OnCommand(fn func(conn *transport.Conn, cmd wire.Command)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommand = append(s.onCommand, fn)
}

// Start starts the server service.
func (s *ServerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.server.Start(ctx); err != nil {
		s.setState(StateStopped)
		return err
	}

	if s.advertiser != nil {
		if err := s.startAdvertising(); err != nil {
			_ = s.server.Stop()
			s.setState(StateStopped)
			return err
		}
	}

	s.setState(StateRunning)
	return nil
}

// startAdvertising registers the mDNS instance using the bound port,
// so advertisement works with an ephemeral Port 0 too.
func (s *ServerService) startAdvertising() error {
	tcpAddr, ok := s.server.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("advertise: unexpected listener address %v", s.server.Addr())
	}

	fingerprint := keys.Fingerprint(s.config.KeyPair.PublicKey)
	instance := s.config.InstanceName
	if instance == "" {
		instance = "comlink-" + fingerprint[:8]
	}

	return s.advertiser.Advertise(instance, tcpAddr.Port, fingerprint)
}

// Stop stops the server service.
func (s *ServerService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	err := s.server.Stop()

	s.setState(StateStopped)
	return err
}

// Execute sends a command to one connection.
func (s *ServerService) Execute(target uint64, name string, args ...string) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	return s.server.Execute(target, name, args...)
}

// Broadcast sends a command to every established connection.
func (s *ServerService) Broadcast(name string, args ...string) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	return s.server.Broadcast(name, args...)
}

// Addr returns the bound listener address, or nil before Start.
func (s *ServerService) Addr() net.Addr {
	return s.server.Addr()
}

// ConnectionCount returns the number of live connections.
func (s *ServerService) ConnectionCount() int {
	return s.server.ConnectionCount()
}

// Fingerprint returns the server key fingerprint, as advertised over
// mDNS.
func (s *ServerService) Fingerprint() string {
	return keys.Fingerprint(s.config.KeyPair.PublicKey)
}

func (s *ServerService) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// dispatchConnect runs as the gateway's OnComplete callback.
func (s *ServerService) dispatchConnect(conn *transport.Conn) {
	s.mu.Lock()
	s.established[conn.ID()] = true
	handlers := s.onConnect
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(conn)
	}
}

func (s *ServerService) dispatchDisconnect(conn *transport.Conn, err error) {
	s.mu.Lock()
	wasEstablished := s.established[conn.ID()]
	delete(s.established, conn.ID())
	handlers := s.onDisconnect
	s.mu.Unlock()

	if !wasEstablished {
		return
	}
	for _, fn := range handlers {
		fn(conn, err)
	}
}

func (s *ServerService) dispatchCommand(conn *transport.Conn, cmd wire.Command) {
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
