package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is the connection trace identifier (UUID). It is
	// shared by both peers' views of the same connection lifecycle
	// on each side.
	ConnectionID string `cbor:"2,keyasint"`

	// ConnNum is the server-assigned numeric connection ID. Servers
	// number connections from 0 in accept order; clients log 0.
	ConnNum uint64 `cbor:"3,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// LocalRole indicates whether this endpoint is server or client.
	LocalRole Role `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Command     *CommandEvent     `cbor:"9,keyasint,omitempty"`  // Wire layer
	Handshake   *HandshakeEvent   `cbor:"10,keyasint,omitempty"` // Key exchange
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Connection state
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the socket and framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the command encoding layer (decoded frames).
	LayerWire Layer = 1
	// LayerService is the application/service layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryCommand indicates a protocol command frame.
	CategoryCommand Category = 0
	// CategoryHandshake indicates key-exchange progress.
	CategoryHandshake Category = 1
	// CategoryState indicates a connection state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "COMMAND"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is server or client.
type Role uint8

const (
	// RoleServer indicates the accepting endpoint.
	RoleServer Role = 0
	// RoleClient indicates the dialing endpoint.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// CommandEvent captures a command frame at the wire layer.
type CommandEvent struct {
	// Name is the command name.
	Name string `cbor:"1,keyasint"`

	// Args are the command arguments. Empty when Suppressed.
	Args []string `cbor:"2,keyasint,omitempty"`

	// Encrypted indicates the frame travelled under a cipher.
	Encrypted bool `cbor:"3,keyasint,omitempty"`

	// Suppressed indicates argument text was withheld from the log.
	// Set for bootstrap and session frames, whose arguments are key
	// material.
	Suppressed bool `cbor:"4,keyasint,omitempty"`
}

// HandshakeEvent captures key-exchange progress. Keys are identified
// by fingerprint; PEM text never enters the log.
type HandshakeEvent struct {
	// Fingerprint identifies the key involved (16 hex chars).
	Fingerprint string `cbor:"1,keyasint"`

	// KeyBits is the RSA modulus size.
	KeyBits int `cbor:"2,keyasint,omitempty"`

	// Complete indicates the peer key is stored and encrypted
	// traffic can flow.
	Complete bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
