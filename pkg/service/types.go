package service

import (
	"errors"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/discovery"
	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted          = errors.New("service not started")
	ErrAlreadyStarted      = errors.New("service already started")
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrHandshakeFailed     = errors.New("key exchange failed")
	ErrFingerprintMismatch = errors.New("server key fingerprint mismatch")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ServerConfig configures a ServerService.
type ServerConfig struct {
	// BindAddress is the local address to bind. Empty binds all
	// interfaces.
	BindAddress string

	// Port to listen on. 0 binds an OS-assigned ephemeral port.
	Port int

	// Backlog is the requested accept queue depth.
	Backlog int

	// MaxConnections caps how many connections the server ever
	// accepts. 0 means unlimited.
	MaxConnections int

	// SendPacing is an optional delay after each outbound frame.
	SendPacing time.Duration

	// KeyPair is the server's RSA key pair. Required.
	KeyPair *keys.KeyPair

	// SessionCipher upgrades connections to a symmetric stream
	// cipher after the key exchange.
	SessionCipher bool

	// Advertise enables mDNS advertisement of this server.
	Advertise bool

	// InstanceName is the mDNS instance name. Empty derives
	// "comlink-" plus the first fingerprint bytes from the key pair.
	InstanceName string

	// Discovery configures the mDNS advertiser when Advertise is set.
	Discovery discovery.AdvertiserConfig

	// Logger is the protocol logger. If nil, logging is disabled.
	Logger log.Logger
}

// ClientConfig configures a ClientService.
type ClientConfig struct {
	// Address of the server, host name or IP.
	Address string

	// Port of the server. 0 uses the default comlink port.
	Port int

	// SendPacing is an optional delay after each outbound frame.
	SendPacing time.Duration

	// KeyBits is the RSA modulus size for the per-connection key
	// pair. 0 uses the default size.
	KeyBits int

	// SessionCipher requests the symmetric stream cipher upgrade
	// after the key exchange. The server must enable it too.
	SessionCipher bool

	// Logger is the protocol logger. If nil, logging is disabled.
	Logger log.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:      transport.DefaultPort,
		Discovery: discovery.DefaultAdvertiserConfig(),
	}
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Port: transport.DefaultPort,
	}
}

// Validate checks if the server config is valid.
func (c *ServerConfig) Validate() error {
	if c.KeyPair == nil || c.KeyPair.PrivateKey == nil || c.KeyPair.PublicKey == nil {
		return ErrInvalidConfig
	}
	if c.InstanceName != "" {
		if err := discovery.ValidateInstanceName(c.InstanceName); err != nil {
			return ErrInvalidConfig
		}
	}
	return nil
}

// Validate checks if the client config is valid. Address may stay
// empty when connections are made through ConnectService.
func (c *ClientConfig) Validate() error {
	if c.KeyBits < 0 {
		return ErrInvalidConfig
	}
	return nil
}
