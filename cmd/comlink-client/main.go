// Command comlink-client is a reference Comlink client implementation.
//
// This command demonstrates a complete Comlink client with:
//   - CLI argument parsing
//   - Direct connection or mDNS server discovery
//   - Server key fingerprint pinning
//   - Interactive command interface
//   - Multi-client swarm mode for load testing
//   - Protocol event logging
//
// Usage:
//
//	comlink-client [flags]
//
// Flags:
//
//	-addr string          Server address (default "127.0.0.1")
//	-port int             Server port (default 7316)
//	-discover             Discover a server via mDNS instead of -addr
//	-instance string      Connect to a named mDNS instance
//	-fingerprint string   Expected server key fingerprint (16 hex chars)
//	-n int                Number of concurrent clients (default 1)
//	-bits int             RSA key size for the ephemeral client pair (default 2048)
//	-session              Request a symmetric session cipher upgrade
//	-pacing duration      Delay between outbound commands
//	-timeout duration     Connect and discovery timeout (default 10s)
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Connect to a local server and enter the interactive prompt
//	comlink-client
//
//	# Discover a server via mDNS and pin its key
//	comlink-client -discover -fingerprint a1b2c3d4e5f60718
//
//	# Connect 10 clients for load testing
//	comlink-client -addr 192.168.1.50 -n 10
//
// Interactive Commands:
//
//	send <name> [args...] - Send a command to the server
//	ping [args...]        - Send ping, the server answers pong
//	echo <text...>        - Ask the server to echo the arguments
//	time                  - Ask for the server time
//	status                - Show connection status
//	quit                  - Exit the client
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comlink-protocol/comlink-go/cmd/comlink-client/interactive"
	"github.com/comlink-protocol/comlink-go/pkg/discovery"
	"github.com/comlink-protocol/comlink-go/pkg/keys"
	comlinklog "github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/service"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// Config holds the client configuration.
type Config struct {
	Address     string
	Port        int
	Discover    bool
	Instance    string
	Fingerprint string
	Clients     int
	KeyBits     int
	Session     bool
	Pacing      time.Duration
	Timeout     time.Duration
	ProtocolLog string
	LogLevel    string
}

var config Config

func init() {
	flag.StringVar(&config.Address, "addr", "127.0.0.1", "Server address")
	flag.IntVar(&config.Port, "port", transport.DefaultPort, "Server port")
	flag.BoolVar(&config.Discover, "discover", false, "Discover a server via mDNS instead of -addr")
	flag.StringVar(&config.Instance, "instance", "", "Connect to a named mDNS instance")
	flag.StringVar(&config.Fingerprint, "fingerprint", "", "Expected server key fingerprint (16 hex chars)")
	flag.IntVar(&config.Clients, "n", 1, "Number of concurrent clients")
	flag.IntVar(&config.KeyBits, "bits", keys.DefaultKeyBits, "RSA key size for the ephemeral client pair")
	flag.BoolVar(&config.Session, "session", false, "Request a symmetric session cipher upgrade")
	flag.DurationVar(&config.Pacing, "pacing", 0, "Delay between outbound commands")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Second, "Connect and discovery timeout")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	// Setup logging
	setupLogging(config.LogLevel)

	log.Println("Comlink Reference Client")
	log.Println("========================")

	// Validate configuration
	if err := validateConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	protocolLogger, logger, err := buildLogger()
	if err != nil {
		log.Fatalf("Failed to create protocol logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve the target once; every client connects to the same server.
	var target *discovery.Service
	if config.Discover || config.Instance != "" {
		target, err = discoverServer(ctx)
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		log.Printf("Found %q at %s (version %s)", target.InstanceName, target.Addr(), target.Version)
	} else {
		log.Printf("Server: %s:%d", config.Address, config.Port)
	}

	if config.Clients > 1 {
		runSwarm(ctx, cancel, target, logger)
	} else {
		runInteractive(ctx, cancel, target, logger)
	}

	if protocolLogger != nil {
		protocolLogger.Close()
	}

	log.Println("Goodbye!")
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

func validateConfig() error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port must be 0-65535, got %d", config.Port)
	}
	if config.Clients < 1 {
		return fmt.Errorf("client count must be >= 1, got %d", config.Clients)
	}
	if config.Address == "" && !config.Discover && config.Instance == "" {
		return fmt.Errorf("server address required (-addr), or use -discover")
	}
	if config.Fingerprint != "" && len(config.Fingerprint) != discovery.FingerprintLength {
		return fmt.Errorf("fingerprint must be %d hex chars, got %d", discovery.FingerprintLength, len(config.Fingerprint))
	}
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("unknown log level: %s", config.LogLevel)
	}
	return nil
}

// buildLogger assembles the protocol event logger. The file logger is
// returned separately so main can close it on shutdown.
func buildLogger() (*comlinklog.FileLogger, comlinklog.Logger, error) {
	var loggers []comlinklog.Logger

	var fileLogger *comlinklog.FileLogger
	if config.ProtocolLog != "" {
		var err error
		fileLogger, err = comlinklog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Protocol logging to: %s", config.ProtocolLog)
		loggers = append(loggers, fileLogger)
	}

	// Debug level also mirrors protocol events to the console.
	if config.LogLevel == "debug" {
		slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		loggers = append(loggers, comlinklog.NewSlogAdapter(slogger))
	}

	switch len(loggers) {
	case 0:
		return nil, comlinklog.NoopLogger{}, nil
	case 1:
		return fileLogger, loggers[0], nil
	default:
		return fileLogger, comlinklog.NewMultiLogger(loggers...), nil
	}
}

// discoverServer resolves a server via mDNS. A named instance is
// looked up directly; otherwise the first advertised server wins.
func discoverServer(ctx context.Context) (*discovery.Service, error) {
	browseCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	if config.Instance != "" {
		log.Printf("Looking for %q via mDNS...", config.Instance)
		return discovery.Find(browseCtx, discovery.BrowserConfig{}, config.Instance)
	}

	log.Println("Browsing for Comlink servers...")
	services, err := discovery.Browse(browseCtx, discovery.BrowserConfig{})
	if err != nil {
		return nil, err
	}

	svc, ok := <-services
	if !ok {
		return nil, discovery.ErrNotFound
	}
	return svc, nil
}

// newClientService builds a connected client. The fingerprint pin is
// enforced after the key exchange regardless of how the server was
// located.
func newClientService(ctx context.Context, target *discovery.Service, logger comlinklog.Logger) (*service.ClientService, error) {
	cfg := service.DefaultClientConfig()
	cfg.Address = config.Address
	cfg.Port = config.Port
	cfg.SendPacing = config.Pacing
	cfg.KeyBits = config.KeyBits
	cfg.SessionCipher = config.Session
	cfg.Logger = logger

	svc, err := service.NewClientService(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	if target != nil {
		err = svc.ConnectService(connectCtx, target)
	} else {
		err = svc.Connect(connectCtx)
	}
	if err != nil {
		return nil, err
	}

	if config.Fingerprint != "" && svc.ServerFingerprint() != config.Fingerprint {
		presented := svc.ServerFingerprint()
		_ = svc.Close()
		return nil, fmt.Errorf("server key fingerprint mismatch: expected %s, presented %s",
			config.Fingerprint, presented)
	}

	return svc, nil
}

// runInteractive connects a single client and hands control to the
// readline prompt.
func runInteractive(ctx context.Context, cancel context.CancelFunc, target *discovery.Service, logger comlinklog.Logger) {
	svc, err := newClientService(ctx, target, logger)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	log.Printf("Connected to %s (server key %s)", svc.Conn().RemoteAddr(), svc.ServerFingerprint())

	ic, err := interactive.New(svc)
	if err != nil {
		log.Fatalf("Failed to create interactive client: %v", err)
	}
	// Redirect log output through readline to avoid interfering with input
	log.SetOutput(ic.Stdout())
	go ic.Run(ctx, cancel)

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled by the quit command
	}

	log.Println("Shutting down...")
	cancel()

	if err := svc.Close(); err != nil && err != service.ErrNotConnected {
		log.Printf("Error closing client: %v", err)
	}
}

// runSwarm connects a fleet of clients that log pushed commands and
// answer pings until a signal arrives.
func runSwarm(ctx context.Context, cancel context.CancelFunc, target *discovery.Service, logger comlinklog.Logger) {
	log.Printf("Starting %d clients", config.Clients)

	clients := make([]*service.ClientService, 0, config.Clients)
	for i := 0; i < config.Clients; i++ {
		svc, err := newClientService(ctx, target, logger)
		if err != nil {
			log.Fatalf("Client %d failed to connect: %v", i, err)
		}

		id := i
		svc.OnCommand(func(conn *transport.Conn, cmd wire.Command) {
			log.Printf("[client %d] <- %s", id, cmd)
			if cmd.Name == "ping" {
				if err := conn.Execute("pong", cmd.Args...); err != nil {
					log.Printf("[client %d] pong failed: %v", id, err)
				}
			}
		})
		svc.OnDisconnect(func(conn *transport.Conn, err error) {
			if err != nil {
				log.Printf("[client %d] connection closed: %v", id, err)
				return
			}
			log.Printf("[client %d] connection closed", id)
		})

		clients = append(clients, svc)
	}
	log.Printf("All %d clients connected", len(clients))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")
	cancel()

	for i, svc := range clients {
		if err := svc.Close(); err != nil && err != service.ErrNotConnected {
			log.Printf("Error closing client %d: %v", i, err)
		}
	}
}
