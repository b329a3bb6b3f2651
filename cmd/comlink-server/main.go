// Command comlink-server is a reference Comlink server implementation.
//
// This command demonstrates a complete Comlink server with:
//   - CLI argument parsing
//   - Configuration file support
//   - RSA key pair loading or ephemeral generation
//   - mDNS discovery advertising
//   - Built-in ping/echo/time command handling
//   - Protocol event logging
//
// Usage:
//
//	comlink-server [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-addr string          Bind address (default "0.0.0.0")
//	-port int             Listen port (default 7316)
//	-backlog int          Accept queue depth (default 10)
//	-max-conns int        Lifetime connection cap, 0 for unlimited
//	-pacing duration      Delay between outbound commands
//	-pub string           Public key PEM path
//	-key string           Private key PEM path
//	-bits int             RSA key size when generating an ephemeral pair (default 2048)
//	-session              Upgrade connections to a symmetric session cipher
//	-advertise            Advertise the server via mDNS
//	-instance string      mDNS instance name (default "comlink-<fingerprint>")
//	-heartbeat duration   Broadcast a heartbeat at this interval, 0 to disable
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start with an ephemeral key pair on the default port
//	comlink-server
//
//	# Start with a persistent key pair and mDNS advertising
//	comlink-server -pub server.pub -key server.key -advertise
//
//	# Start from a config file with a 10s heartbeat
//	comlink-server -config server.yaml -heartbeat 10s
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/keys"
	comlinklog "github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/service"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// Config holds the server configuration.
type Config struct {
	ConfigFile  string
	BindAddress string
	Port        int
	Backlog     int
	MaxConns    int
	Pacing      time.Duration
	PublicKey   string
	PrivateKey  string
	KeyBits     int
	Session     bool
	Advertise   bool
	Instance    string
	Heartbeat   time.Duration
	ProtocolLog string
	LogLevel    string
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.BindAddress, "addr", "0.0.0.0", "Bind address")
	flag.IntVar(&config.Port, "port", transport.DefaultPort, "Listen port")
	flag.IntVar(&config.Backlog, "backlog", 10, "Accept queue depth")
	flag.IntVar(&config.MaxConns, "max-conns", 0, "Lifetime connection cap, 0 for unlimited")
	flag.DurationVar(&config.Pacing, "pacing", 0, "Delay between outbound commands")
	flag.StringVar(&config.PublicKey, "pub", "", "Public key PEM path")
	flag.StringVar(&config.PrivateKey, "key", "", "Private key PEM path")
	flag.IntVar(&config.KeyBits, "bits", keys.DefaultKeyBits, "RSA key size when generating an ephemeral pair")
	flag.BoolVar(&config.Session, "session", false, "Upgrade connections to a symmetric session cipher")
	flag.BoolVar(&config.Advertise, "advertise", false, "Advertise the server via mDNS")
	flag.StringVar(&config.Instance, "instance", "", "mDNS instance name")
	flag.DurationVar(&config.Heartbeat, "heartbeat", 0, "Broadcast a heartbeat at this interval, 0 to disable")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if config.ConfigFile != "" {
		if err := applyFileConfig(config.ConfigFile, flagsSet()); err != nil {
			log.Fatalf("Invalid configuration file: %v", err)
		}
	}

	// Setup logging
	setupLogging(config.LogLevel)

	log.Println("Comlink Reference Server")
	log.Println("========================")
	log.Printf("Bind address: %s:%d", config.BindAddress, config.Port)

	// Validate configuration
	if err := validateConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	keyPair, err := loadKeys()
	if err != nil {
		log.Fatalf("Failed to load keys: %v", err)
	}
	log.Printf("Server key: %s (%d bits)", keys.Fingerprint(keyPair.PublicKey), keyPair.Bits())

	protocolLogger, logger, err := buildLogger()
	if err != nil {
		log.Fatalf("Failed to create protocol logger: %v", err)
	}

	// Create server service
	svcConfig := service.DefaultServerConfig()
	svcConfig.BindAddress = config.BindAddress
	svcConfig.Port = config.Port
	svcConfig.Backlog = config.Backlog
	svcConfig.MaxConnections = config.MaxConns
	svcConfig.SendPacing = config.Pacing
	svcConfig.KeyPair = keyPair
	svcConfig.SessionCipher = config.Session
	svcConfig.Advertise = config.Advertise
	svcConfig.InstanceName = config.Instance
	svcConfig.Logger = logger

	svc, err := service.NewServerService(svcConfig)
	if err != nil {
		log.Fatalf("Failed to create server service: %v", err)
	}

	// Register connection handlers
	svc.OnConnect(func(conn *transport.Conn) {
		log.Printf("[EVENT] Connection %d established (%s)", conn.ID(), conn.RemoteAddr())
	})
	svc.OnDisconnect(func(conn *transport.Conn, err error) {
		if err != nil {
			log.Printf("[EVENT] Connection %d closed: %v", conn.ID(), err)
			return
		}
		log.Printf("[EVENT] Connection %d closed", conn.ID())
	})
	svc.OnCommand(handleCommand)

	// Start service
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}
	log.Printf("Service started (state: %s)", svc.State())
	log.Printf("Listening on %s", svc.Addr())

	if config.Advertise {
		instance := config.Instance
		if instance == "" {
			instance = "comlink-" + svc.Fingerprint()[:8]
		}
		log.Printf("Advertising as %q", instance)
	}

	// Start heartbeat if enabled
	if config.Heartbeat > 0 {
		go runHeartbeat(ctx, svc, config.Heartbeat)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")
	cancel()

	if err := svc.Stop(); err != nil {
		log.Printf("Error stopping service: %v", err)
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
	if config.MaxConns < 0 {
		return fmt.Errorf("max-conns must be >= 0, got %d", config.MaxConns)
	}
	if (config.PublicKey == "") != (config.PrivateKey == "") {
		return fmt.Errorf("-pub and -key must be given together")
	}
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("unknown log level: %s", config.LogLevel)
	}
	return nil
}

// loadKeys loads the configured PEM key pair, or generates an
// ephemeral pair when no paths are given.
func loadKeys() (*keys.KeyPair, error) {
	if config.PublicKey == "" && config.PrivateKey == "" {
		log.Printf("No key files configured, generating ephemeral %d-bit pair", config.KeyBits)
		return keys.GenerateKeyPair(config.KeyBits)
	}
	return keys.LoadKeyPair(config.PublicKey, config.PrivateKey)
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

// handleCommand answers the built-in demo commands. Unknown commands
// are logged and dropped.
func handleCommand(conn *transport.Conn, cmd wire.Command) {
	log.Printf("[COMMAND] conn %d: %s", conn.ID(), cmd.String())

	var err error
	switch cmd.Name {
	case "ping":
		err = conn.Execute("pong", cmd.Args...)
	case "echo":
		err = conn.Execute("echo", cmd.Args...)
	case "time":
		err = conn.Execute("time", time.Now().UTC().Format(time.RFC3339))
	default:
		return
	}
	if err != nil {
		log.Printf("Failed to answer %s on conn %d: %v", cmd.Name, conn.ID(), err)
	}
}

// runHeartbeat broadcasts a numbered heartbeat to every established
// connection until the context is cancelled.
func runHeartbeat(ctx context.Context, svc *service.ServerService, interval time.Duration) {
	log.Printf("Heartbeat every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if svc.ConnectionCount() == 0 {
				continue
			}
			seq++
			if err := svc.Broadcast("heartbeat", strconv.FormatUint(seq, 10)); err != nil {
				log.Printf("Heartbeat %d: %v", seq, err)
			}
		}
	}
}
