// Package service provides high-level orchestration for comlink servers
// and clients.
//
// This package ties the lower-level components into cohesive APIs: it
// composes the key exchange gateway's hooks with application hooks
// (gateway first, so the handshake always runs before application
// callbacks), owns the protocol logger plumbing, and optionally
// advertises the server via mDNS.
//
// # ServerService
//
// ServerService runs a comlink server. It handles:
//   - Listening for incoming connections
//   - Per-connection key exchange and encryption
//   - Optional mDNS advertisement
//   - Command dispatch to application handlers
//
// Example usage:
//
//	kp, _ := keys.GenerateKeyPair(0)
//	config := service.DefaultServerConfig()
//	config.KeyPair = kp
//
//	svc, err := service.NewServerService(config)
//	svc.OnCommand(func(conn *transport.Conn, cmd wire.Command) {
//		_ = conn.Execute("ack", cmd.Name)
//	})
//	svc.Start(ctx)
//	defer svc.Stop()
//
// # ClientService
//
// ClientService maintains one connection to a comlink server. Connect
// returns once the key exchange completes, so the returned connection
// is immediately usable:
//
//	config := service.DefaultClientConfig()
//	config.Address = "192.168.1.20"
//
//	svc, err := service.NewClientService(config)
//	if err := svc.Connect(ctx); err != nil {
//		...
//	}
//	defer svc.Close()
//
//	svc.Execute("hello", "world")
//
// ConnectService connects to an mDNS-discovered server instead,
// verifying its advertised protocol version before dialing and its key
// fingerprint after the exchange.
//
// # Command Filtering
//
// The reserved key exchange commands never reach application handlers;
// OnCommand only sees application traffic.
package service
