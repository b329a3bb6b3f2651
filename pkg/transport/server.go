package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// DefaultPort is the conventional comlink port. Binaries use it as
// their flag default; NewServer does not force it, so Port 0 still
// binds an OS-assigned ephemeral port.
const DefaultPort = 7316

// ServerConfig holds the settings for a transport server.
type ServerConfig struct {
	// BindAddress is the local address to bind. Empty binds all
	// interfaces.
	BindAddress string

	// Port to listen on. 0 binds an OS-assigned ephemeral port;
	// Addr reports the bound address.
	Port int

	// Backlog is the requested accept queue depth. The Go runtime
	// delegates the actual queue to the operating system, so the
	// value is recorded in the log for diagnostics only.
	Backlog int

	// MaxConnections caps how many connections the server ever
	// accepts. The cap is a lifetime total, not a concurrent limit:
	// once reached, the listener closes and no further connection is
	// accepted for the server's lifetime. 0 means unlimited.
	MaxConnections int

	// SendPacing is an optional delay after each outbound frame,
	// applied per connection. 0 disables pacing.
	SendPacing time.Duration

	// Hooks receive lifecycle and command events. Fixed for the
	// server's lifetime.
	Hooks Hooks

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Server accepts comlink connections and tracks them in a Registry.
// Connection IDs are assigned from 0 in accept order and never
// reused.
type Server struct {
	config   ServerConfig
	listener net.Listener

	registry *Registry
	nextID   atomic.Uint64

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", config.Port)
	}
	if config.MaxConnections < 0 {
		return nil, fmt.Errorf("invalid max connections %d", config.MaxConnections)
	}
	if config.Backlog < 0 {
		return nil, fmt.Errorf("invalid backlog %d", config.Backlog)
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	return &Server{
		config:   config,
		registry: NewRegistry(),
	}, nil
}

// Start binds the listener and begins accepting connections. It
// returns once the listener is bound; accepting happens on a
// background goroutine. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logServerState("LISTENING", fmt.Sprintf("addr=%s backlog=%d", listener.Addr(), s.config.Backlog))

	go s.watchContext()
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every live connection, then waits for
// all connection goroutines to finish. Stopping a stopped server is a
// no-op.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		// Already closed by the connection cap.
		err = nil
	}

	for _, conn := range s.registry.Snapshot() {
		_ = conn.Close()
	}
	s.wg.Wait()

	s.logServerState("STOPPED", "")
	return err
}

// watchContext stops the server when the Start context is cancelled.
// Stop cancels the context too, so the goroutine never outlives the
// server.
func (s *Server) watchContext() {
	<-s.ctx.Done()
	_ = s.Stop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	accepted := 0
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logServerError(err, "accept")
			continue
		}

		id := s.nextID.Add(1) - 1
		s.wg.Add(1)
		go s.handleConnection(id, sock)

		accepted++
		if s.config.MaxConnections > 0 && accepted >= s.config.MaxConnections {
			// Lifetime cap reached. Close the listener so no further
			// connection is ever accepted; live connections keep
			// running.
			s.logServerState("LISTENER_CLOSED", fmt.Sprintf("connection cap reached (%d)", accepted))
			_ = s.listener.Close()
			return
		}
	}
}

// handleConnection owns one connection's lifecycle: register, hand to
// the hooks, pump frames, tear down. OnDisconnect fires exactly once,
// after the registry entry is gone.
func (s *Server) handleConnection(id uint64, sock net.Conn) {
	defer s.wg.Done()

	conn := newConn(id, uuid.New().String(), sock, s.config.Hooks, s.config.Logger, log.RoleServer, s.config.SendPacing)

	// Register before OnConnect so hooks always observe a registered
	// connection.
	s.registry.Insert(conn)
	conn.establish()
	if s.config.Hooks.OnConnect != nil {
		s.config.Hooks.OnConnect(conn)
	}

	err := conn.receiveLoop()
	if err != nil {
		conn.emitError(err, "receive loop")
	}

	conn.finish(closeReason(err))
	s.registry.Remove(id)
	if s.config.Hooks.OnDisconnect != nil {
		s.config.Hooks.OnDisconnect(conn, err)
	}
}

// Execute sends a command to one connection.
func (s *Server) Execute(target uint64, name string, args ...string) error {
	conn, ok := s.registry.Get(target)
	if !ok {
		return fmt.Errorf("%w: %d", ErrConnectionNotFound, target)
	}
	return conn.Execute(name, args...)
}

// Broadcast sends a command to every registered connection in
// ascending ID order. A failed connection does not stop the others;
// the per-connection errors are joined in the result.
func (s *Server) Broadcast(name string, args ...string) error {
	var errs []error
	for _, conn := range s.registry.Snapshot() {
		if err := conn.Execute(name, args...); err != nil {
			errs = append(errs, fmt.Errorf("connection %d: %w", conn.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.registry.Len()
}

// Registry exposes the connection registry for lookups and snapshots.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) logServerState(state, reason string) {
	s.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			NewState: state,
			Reason:   reason,
		},
	})
}

func (s *Server) logServerError(err error, context string) {
	s.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		LocalRole: log.RoleServer,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}
