package transport

import (
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// Hooks bundles the callbacks and transforms a transport invokes. A
// Hooks value is fixed when the server or client is constructed and
// never mutated afterwards; composition happens up front with
// MergeHooks.
//
// All callbacks run on the connection's receive goroutine (OnConnect
// and OnDisconnect on the connection's lifecycle goroutine, OnSent on
// the sender's). A callback that blocks stalls only its own
// connection. Nil fields are skipped.
type Hooks struct {
	// OnConnect fires once the connection is registered and
	// established, before any frame is read from it.
	OnConnect func(conn *Conn)

	// OnDisconnect fires exactly once after the connection closes.
	// err is the terminal cause, nil for a clean close.
	OnDisconnect func(conn *Conn, err error)

	// OnCommand receives every parsed application command.
	OnCommand func(conn *Conn, cmd wire.Command)

	// OnBootstrap receives key exchange commands. Bootstrap frames
	// are routed here and never reach OnCommand.
	OnBootstrap func(conn *Conn, cmd wire.Command)

	// OnSent fires after a command is written to the socket.
	OnSent func(conn *Conn, cmd wire.Command)

	// OnError receives transport faults that terminate a connection.
	OnError func(conn *Conn, err error)

	// Encrypt transforms an encoded outbound frame into ciphertext.
	// The clear-text key exchange frame bypasses it. Nil sends all
	// frames in clear text.
	Encrypt func(connID uint64, frame []byte) ([]byte, error)

	// Decrypt transforms inbound ciphertext back into an encoded
	// frame. Clear-text key exchange frames bypass it. Nil expects
	// all frames in clear text.
	Decrypt func(connID uint64, frame []byte) ([]byte, error)
}

// MergeHooks composes two hook sets into one. Callbacks chain: a's
// runs first, then b's. The Encrypt and Decrypt transforms do not
// chain; the first non-nil one wins, so a gateway's cipher cannot be
// silently double-wrapped.
func MergeHooks(a, b Hooks) Hooks {
	merged := Hooks{
		OnConnect:    chainConn(a.OnConnect, b.OnConnect),
		OnDisconnect: chainConnErr(a.OnDisconnect, b.OnDisconnect),
		OnCommand:    chainConnCmd(a.OnCommand, b.OnCommand),
		OnBootstrap:  chainConnCmd(a.OnBootstrap, b.OnBootstrap),
		OnSent:       chainConnCmd(a.OnSent, b.OnSent),
		OnError:      chainConnErr(a.OnError, b.OnError),
		Encrypt:      a.Encrypt,
		Decrypt:      a.Decrypt,
	}
	if merged.Encrypt == nil {
		merged.Encrypt = b.Encrypt
	}
	if merged.Decrypt == nil {
		merged.Decrypt = b.Decrypt
	}
	return merged
}

func chainConn(a, b func(*Conn)) func(*Conn) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(conn *Conn) {
		a(conn)
		b(conn)
	}
}

func chainConnErr(a, b func(*Conn, error)) func(*Conn, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(conn *Conn, err error) {
		a(conn, err)
		b(conn, err)
	}
}

func chainConnCmd(a, b func(*Conn, wire.Command)) func(*Conn, wire.Command) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(conn *Conn, cmd wire.Command) {
		a(conn, cmd)
		b(conn, cmd)
	}
}
