package transport

import (
	"context"
	"net"
)

// Connection is the per-peer surface shared by both roles.
// Implemented by Conn.
type Connection interface {
	// ID returns the numeric connection ID.
	ID() uint64

	// TraceID returns the connection trace identifier used in logs.
	TraceID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// LocalAddr returns the local address.
	LocalAddr() net.Addr

	// State returns the current connection state.
	State() ConnectionState

	// Execute sends a command to the peer.
	Execute(name string, args ...string) error

	// Close initiates connection teardown.
	Close() error
}

// CommandSender sends commands without exposing connection identity.
// Implemented by Client and Conn.
type CommandSender interface {
	// Execute sends a command to the peer.
	Execute(name string, args ...string) error
}

// TransportServer is the server surface used by the service layer.
// Implemented by Server.
type TransportServer interface {
	// Start binds the listener and begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and every live connection.
	Stop() error

	// Execute sends a command to one connection.
	Execute(target uint64, name string, args ...string) error

	// Broadcast sends a command to every registered connection.
	Broadcast(name string, args ...string) error

	// Addr returns the bound listener address.
	Addr() net.Addr

	// ConnectionCount returns the number of live connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ Connection      = (*Conn)(nil)
	_ CommandSender   = (*Conn)(nil)
	_ CommandSender   = (*Client)(nil)
	_ TransportServer = (*Server)(nil)
)
