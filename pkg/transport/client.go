package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// ClientConfig holds the settings for a transport client.
type ClientConfig struct {
	// Address of the server, host name or IP.
	Address string

	// Port of the server. 0 uses DefaultPort.
	Port int

	// SendPacing is an optional delay after each outbound frame.
	// 0 disables pacing.
	SendPacing time.Duration

	// Hooks receive lifecycle and command events. Fixed for the
	// client's lifetime.
	Hooks Hooks

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client maintains a single connection to a comlink server. There is
// no automatic reconnection; when the connection ends the client goes
// back to being unconnected and Connect may be called again.
type Client struct {
	config ClientConfig

	mu   sync.RWMutex
	conn *Conn
	wg   sync.WaitGroup
}

// NewClient creates a client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", config.Port)
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	return &Client{config: config}, nil
}

// Connect dials the server. OnConnect fires synchronously before
// Connect returns, so a hook that starts a key exchange has written
// its first frame by the time the caller proceeds. The receive loop
// runs on a background goroutine until the connection ends.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.State() != StateClosed {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))
	dialer := &net.Dialer{}
	sock, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", addr, err)
		c.logClientError(err, "connect")
		return err
	}

	conn := newConn(0, uuid.New().String(), sock, c.config.Hooks, c.config.Logger, log.RoleClient, c.config.SendPacing)
	c.conn = conn

	conn.establish()
	if c.config.Hooks.OnConnect != nil {
		c.config.Hooks.OnConnect(conn)
	}

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// run pumps frames until the connection ends, then tears it down.
// OnDisconnect fires exactly once per connection.
func (c *Client) run(conn *Conn) {
	defer c.wg.Done()

	err := conn.receiveLoop()
	if err != nil {
		conn.emitError(err, "receive loop")
	}

	conn.finish(closeReason(err))
	if c.config.Hooks.OnDisconnect != nil {
		c.config.Hooks.OnDisconnect(conn, err)
	}
}

// Execute sends a command over the live connection.
func (c *Client) Execute(name string, args ...string) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Execute(name, args...)
}

// Conn returns the live connection, or nil when unconnected.
func (c *Client) Conn() *Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.conn.State() == StateClosed {
		return nil
	}
	return c.conn
}

// Connected reports whether a connection is established.
func (c *Client) Connected() bool {
	return c.Conn() != nil
}

// Close tears down the connection and waits for the receive loop to
// finish. Closing an unconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) logClientError(err error, context string) {
	c.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		LocalRole: log.RoleClient,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}
