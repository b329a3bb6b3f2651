package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// Transport errors.
var (
	// ErrServerRunning indicates Start was called on a running server.
	ErrServerRunning = errors.New("server already running")
	// ErrNotConnected indicates no connection is established.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected indicates a connection already exists.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionNotFound indicates the connection ID is not registered.
	ErrConnectionNotFound = errors.New("connection not found")
)

// ConnectionState represents the lifecycle state of a connection.
type ConnectionState int32

const (
	// StateConnecting means the socket exists but the connection has
	// not been handed to the hooks yet.
	StateConnecting ConnectionState = iota
	// StateEstablished means the connection is live and frames flow.
	StateEstablished
	// StateClosing means a close was initiated locally.
	StateClosing
	// StateClosed means the connection is fully torn down.
	StateClosed
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// readChunkSize is the size of each socket read. Frames may span any
// number of chunks and a single chunk may carry several frames.
const readChunkSize = 4096

// Conn is one live peer link. Servers hold one Conn per accepted
// socket; a client holds exactly one. Both roles share the same
// receive loop, send path, and close semantics.
//
// Conn methods are safe for concurrent use. Writes are serialized by
// an internal mutex so frames from concurrent Execute calls never
// interleave on the wire.
type Conn struct {
	id      uint64
	traceID string
	sock    net.Conn

	hooks  Hooks
	logger log.Logger
	role   log.Role
	pacing time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	closeCh   chan struct{}

	writeMu sync.Mutex
}

func newConn(id uint64, traceID string, sock net.Conn, hooks Hooks, logger log.Logger, role log.Role, pacing time.Duration) *Conn {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	c := &Conn{
		id:      id,
		traceID: traceID,
		sock:    sock,
		hooks:   hooks,
		logger:  logger,
		role:    role,
		pacing:  pacing,
		closeCh: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the numeric connection ID. Servers assign IDs from 0 in
// accept order and never reuse them; client-side connections report 0.
func (c *Conn) ID() uint64 {
	return c.id
}

// TraceID returns the connection trace identifier used in logs.
func (c *Conn) TraceID() string {
	return c.traceID
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Execute encodes a command and writes it to the peer. When an Encrypt
// hook is attached, every frame except the clear-text key exchange
// frame is encrypted before the outer terminator is appended.
//
// Execute blocks until the frame is written. Commands from concurrent
// callers are serialized; each is delivered in one piece.
func (c *Conn) Execute(name string, args ...string) error {
	return c.send(wire.Command{Name: name, Args: args})
}

func (c *Conn) send(cmd wire.Command) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	frame, err := wire.Encode(cmd)
	if err != nil {
		return err
	}

	// Encrypt under the write lock so a cipher change never reorders
	// frames on the wire relative to the cipher that sealed them.
	encrypted := false
	c.writeMu.Lock()
	if c.hooks.Encrypt != nil && cmd.Name != wire.BootstrapCommand {
		ciphertext, cerr := c.hooks.Encrypt(c.id, frame)
		if cerr != nil {
			c.writeMu.Unlock()
			cerr = fmt.Errorf("encrypt failed: %w", cerr)
			c.emitError(cerr, "send "+cmd.Name)
			return cerr
		}
		frame = wire.Seal(ciphertext)
		encrypted = true
	}
	_, err = c.sock.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	c.logCommand(cmd, log.DirectionOut, encrypted)
	if c.hooks.OnSent != nil {
		c.hooks.OnSent(c, cmd)
	}
	if c.pacing > 0 {
		time.Sleep(c.pacing)
	}
	return nil
}

// Close initiates connection teardown. It is idempotent; only the
// first call closes the socket. The receive loop observes the closed
// socket, finishes, and fires OnDisconnect exactly once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosing))
		c.logStateChange(old, StateClosing, "")
		close(c.closeCh)
		err = c.sock.Close()
	})
	return err
}

// establish moves the connection to ESTABLISHED. Called by the owning
// server or client just before OnConnect fires.
func (c *Conn) establish() {
	old := c.State()
	c.state.Store(int32(StateEstablished))
	c.logStateChange(old, StateEstablished, "")
}

// finish marks the connection CLOSED after the receive loop exits.
// The reason appears in the state change log entry.
func (c *Conn) finish(reason string) {
	_ = c.Close()
	old := c.State()
	c.state.Store(int32(StateClosed))
	c.logStateChange(old, StateClosed, reason)
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// receiveLoop reads from the socket until the connection ends. Bytes
// are accumulated across reads and every complete frame is dispatched
// in arrival order before the next read. The returned error is the
// terminal cause; nil means the peer closed cleanly or the local side
// called Close.
func (c *Conn) receiveLoop() error {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := c.sock.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var derr error
			buf, derr = c.dispatchFrames(buf)
			if derr != nil {
				return derr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if c.State() != StateEstablished {
				// Local close; the socket error is expected.
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}

// dispatchFrames splits buf into complete frames and dispatches each.
// It returns the unconsumed remainder, which stays buffered for the
// next read. Dispatch is synchronous, so a frame's bytes are fully
// consumed before the buffer is touched again.
func (c *Conn) dispatchFrames(buf []byte) ([]byte, error) {
	for {
		raw, rest, ok := wire.Next(buf)
		if !ok {
			return buf, nil
		}
		if err := c.dispatch(raw); err != nil {
			return rest, err
		}
		buf = rest
	}
}

// dispatch handles one raw frame: decrypt unless it is the clear-text
// key exchange frame, parse, log, and route to the hooks.
func (c *Conn) dispatch(raw []byte) error {
	encrypted := false
	if c.hooks.Decrypt != nil && !wire.IsBootstrapFrame(raw) {
		plain, err := c.hooks.Decrypt(c.id, raw)
		if err != nil {
			return fmt.Errorf("decrypt failed: %w", err)
		}
		raw = plain
		encrypted = true
	}

	cmd, err := wire.Parse(raw)
	if err != nil {
		return err
	}

	c.logCommand(cmd, log.DirectionIn, encrypted)

	// Key exchange frames never reach the command hook.
	if cmd.Name == wire.BootstrapCommand {
		if c.hooks.OnBootstrap != nil {
			c.hooks.OnBootstrap(c, cmd)
		}
		return nil
	}
	if c.hooks.OnCommand != nil {
		c.hooks.OnCommand(c, cmd)
	}
	return nil
}

func (c *Conn) logCommand(cmd wire.Command, dir log.Direction, encrypted bool) {
	ce := &log.CommandEvent{
		Name:      cmd.Name,
		Encrypted: encrypted,
	}
	// Reserved command arguments are key material and stay out of
	// the log.
	if cmd.IsReserved() {
		ce.Suppressed = true
	} else {
		ce.Args = cmd.Args
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.traceID,
		ConnNum:      c.id,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryCommand,
		LocalRole:    c.role,
		RemoteAddr:   c.sock.RemoteAddr().String(),
		Command:      ce,
	})
}

func (c *Conn) logStateChange(old, now ConnectionState, reason string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.traceID,
		ConnNum:      c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    c.role,
		RemoteAddr:   c.sock.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: now.String(),
			Reason:   reason,
		},
	})
}

func (c *Conn) emitError(err error, context string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.traceID,
		ConnNum:      c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    c.role,
		RemoteAddr:   c.sock.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
	if c.hooks.OnError != nil {
		c.hooks.OnError(c, err)
	}
}
