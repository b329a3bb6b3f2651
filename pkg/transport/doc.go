// Package transport implements the TCP engine that moves comlink
// frames between endpoints.
//
// The package provides three building blocks:
//
//	Server    listens for inbound connections and tracks them in a Registry
//	Client    dials a server and maintains a single connection
//	Conn      one live peer link, shared by both roles
//
// Both roles run the same receive loop: bytes are accumulated until a
// frame terminator arrives, each complete frame is decrypted (unless it
// is the clear-text key exchange frame), parsed, and handed to the
// injected hooks. Dispatch is synchronous; a hook that blocks stalls
// that connection's reads and nothing else.
//
// Behavior is injected through a Hooks value fixed at construction
// time. The transport itself has no knowledge of key exchange or
// command semantics; layers above (pkg/handshake, pkg/service) compose
// their callbacks into the Hooks before the transport starts.
//
//	            ┌─────────────────────────┐
//	            │   application hooks     │
//	            ├─────────────────────────┤
//	            │   handshake gateway     │  pkg/handshake
//	            ├─────────────────────────┤
//	            │   transport engine      │  this package
//	            ├─────────────────────────┤
//	            │   frame codec           │  pkg/wire
//	            ├─────────────────────────┤
//	            │   TCP                   │
//	            └─────────────────────────┘
//
// Connections use blocking socket I/O with no read deadlines. A
// connection ends when the peer closes, a read or write fails, a frame
// fails to decrypt or parse, or the local side calls Close.
package transport
