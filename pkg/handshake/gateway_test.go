package handshake_test

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/handshake"
	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// testKeyPair generates a server key pair. Most tests use 1024 bits to
// stay fast; session tests need 2048 so the session frame fits one
// OAEP block.
func testKeyPair(t *testing.T, bits int) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair(bits)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return kp
}

func newServerGateway(t *testing.T, config handshake.ServerConfig) *handshake.ServerGateway {
	t.Helper()
	gw, err := handshake.NewServerGateway(config)
	if err != nil {
		t.Fatalf("NewServerGateway failed: %v", err)
	}
	return gw
}

func newClientGateway(t *testing.T, config handshake.ClientConfig) *handshake.ClientGateway {
	t.Helper()
	if config.KeyBits == 0 {
		config.KeyBits = 1024
	}
	gw, err := handshake.NewClientGateway(config)
	if err != nil {
		t.Fatalf("NewClientGateway failed: %v", err)
	}
	return gw
}

// startGatewayServer boots a server on an ephemeral localhost port with
// the gateway hooks merged ahead of the extra application hooks.
func startGatewayServer(t *testing.T, gw *handshake.ServerGateway, extra transport.Hooks) *transport.Server {
	t.Helper()
	server, err := transport.NewServer(transport.ServerConfig{
		BindAddress: "127.0.0.1",
		Hooks:       transport.MergeHooks(gw.Hooks(), extra),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// connectClient dials the server with the client gateway installed.
func connectClient(t *testing.T, server *transport.Server, gw *handshake.ClientGateway, extra transport.Hooks) *transport.Client {
	t.Helper()
	client, err := transport.NewClient(transport.ClientConfig{
		Address: "127.0.0.1",
		Port:    server.Addr().(*net.TCPAddr).Port,
		Hooks:   transport.MergeHooks(gw.Hooks(), extra),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// appCommands returns hooks that forward application commands, skipping
// the reserved handshake frames the way the service layer does.
func appCommands(ch chan<- wire.Command) transport.Hooks {
	return transport.Hooks{
		OnCommand: func(_ *transport.Conn, cmd wire.Command) {
			if cmd.IsReserved() {
				return
			}
			ch <- cmd
		},
	}
}

func waitReady(t *testing.T, gw *handshake.ClientGateway) {
	t.Helper()
	select {
	case <-gw.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for key exchange")
	}
}

func waitConn(t *testing.T, ch <-chan *transport.Conn) *transport.Conn {
	t.Helper()
	select {
	case conn := <-ch:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake completion")
		return nil
	}
}

func waitCommand(t *testing.T, ch <-chan wire.Command) wire.Command {
	t.Helper()
	select {
	case cmd := <-ch:
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command")
		return wire.Command{}
	}
}

func mustPeerKey(t *testing.T, gw *handshake.ServerGateway, id uint64) *rsa.PublicKey {
	t.Helper()
	pub, ok := gw.PeerKey(id)
	if !ok {
		t.Fatalf("no peer key for connection %d", id)
	}
	return pub
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// rawPeer drives the wire format over a plain TCP socket so tests can
// observe exactly what the gateway puts on the wire.
type rawPeer struct {
	t    *testing.T
	sock net.Conn
	buf  []byte
}

func dialRawPeer(t *testing.T, server *transport.Server) *rawPeer {
	t.Helper()
	sock, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return &rawPeer{t: t, sock: sock}
}

// next returns the body of the next frame, outer terminator stripped.
func (p *rawPeer) next() []byte {
	p.t.Helper()
	p.sock.SetReadDeadline(time.Now().Add(5 * time.Second))
	chunk := make([]byte, 4096)
	for {
		if frame, rest, ok := wire.Next(p.buf); ok {
			p.buf = append([]byte(nil), rest...)
			return frame
		}
		n, err := p.sock.Read(chunk)
		if err != nil {
			p.t.Fatalf("read failed: %v", err)
		}
		p.buf = append(p.buf, chunk[:n]...)
	}
}

func (p *rawPeer) send(cmd wire.Command) {
	p.t.Helper()
	frame, err := wire.Encode(cmd)
	if err != nil {
		p.t.Fatalf("encode failed: %v", err)
	}
	if _, err := p.sock.Write(frame); err != nil {
		p.t.Fatalf("write failed: %v", err)
	}
}

// expectClose waits for the peer to drop the connection.
func (p *rawPeer) expectClose() {
	p.t.Helper()
	p.sock.SetReadDeadline(time.Now().Add(5 * time.Second))
	chunk := make([]byte, 4096)
	for {
		_, err := p.sock.Read(chunk)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			p.t.Fatal("peer did not close the connection")
		}
		if err != nil {
			return
		}
	}
}

func TestNewServerGatewayRequiresKeyPair(t *testing.T) {
	kp := testKeyPair(t, 1024)

	tests := []struct {
		name   string
		config handshake.ServerConfig
	}{
		{name: "nil pair", config: handshake.ServerConfig{}},
		{name: "missing private", config: handshake.ServerConfig{KeyPair: &keys.KeyPair{PublicKey: kp.PublicKey}}},
		{name: "missing public", config: handshake.ServerConfig{KeyPair: &keys.KeyPair{PrivateKey: kp.PrivateKey}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := handshake.NewServerGateway(tt.config); !errors.Is(err, keys.ErrKeyUnavailable) {
				t.Errorf("NewServerGateway() error = %v, want ErrKeyUnavailable", err)
			}
		})
	}
}

func TestNewClientGatewayRejectsNegativeKeyBits(t *testing.T) {
	if _, err := handshake.NewClientGateway(handshake.ClientConfig{KeyBits: -1}); err == nil {
		t.Error("NewClientGateway() should reject negative key size")
	}
}

func TestKeyExchangeCompletes(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	serverDone := make(chan *transport.Conn, 1)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:    serverKP,
		OnComplete: func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, transport.Hooks{})

	clientDone := make(chan *transport.Conn, 1)
	cg := newClientGateway(t, handshake.ClientConfig{
		OnComplete: func(conn *transport.Conn) { clientDone <- conn },
	})
	connectClient(t, server, cg, transport.Hooks{})

	conn := waitConn(t, serverDone)
	waitConn(t, clientDone)
	waitReady(t, cg)

	if got, want := keys.Fingerprint(cg.ServerKey()), keys.Fingerprint(serverKP.PublicKey); got != want {
		t.Errorf("client stored server key %s, want %s", got, want)
	}
	if !sg.HasPeerKey(conn.ID()) {
		t.Error("server has no peer key after the exchange")
	}
	if sg.PeerCount() != 1 {
		t.Errorf("PeerCount = %d, want 1", sg.PeerCount())
	}
	if pub := mustPeerKey(t, sg, conn.ID()); pub.N.BitLen() != 1024 {
		t.Errorf("peer key size = %d bits, want 1024", pub.N.BitLen())
	}
}

func TestEncryptedCommandRoundTrip(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	serverDone := make(chan *transport.Conn, 1)
	serverCmds := make(chan wire.Command, 4)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:    serverKP,
		OnComplete: func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, appCommands(serverCmds))

	clientCmds := make(chan wire.Command, 4)
	cg := newClientGateway(t, handshake.ClientConfig{})
	client := connectClient(t, server, cg, appCommands(clientCmds))

	conn := waitConn(t, serverDone)
	waitReady(t, cg)

	if err := client.Execute("hello", "alpha", "beta"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	cmd := waitCommand(t, serverCmds)
	if cmd.Name != "hello" || len(cmd.Args) != 2 || cmd.Args[0] != "alpha" || cmd.Args[1] != "beta" {
		t.Errorf("server received %v, want hello(alpha, beta)", cmd)
	}

	if err := server.Execute(conn.ID(), "pong", "ok"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	cmd = waitCommand(t, clientCmds)
	if cmd.Name != "pong" || len(cmd.Args) != 1 || cmd.Args[0] != "ok" {
		t.Errorf("client received %v, want pong(ok)", cmd)
	}

	// A 1024-bit key carries at most 62 bytes per frame; anything
	// larger is refused before it touches the wire.
	err := client.Execute("blob", strings.Repeat("x", 80))
	if !errors.Is(err, keys.ErrPayloadTooLarge) {
		t.Errorf("oversize Execute error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestExecuteBeforeKeyExchangeFails(t *testing.T) {
	// A listener that swallows the client's bootstrap frame and never
	// answers with its own key.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go func() {
		sock, err := lis.Accept()
		if err != nil {
			return
		}
		io.Copy(io.Discard, sock)
	}()

	cg := newClientGateway(t, handshake.ClientConfig{})
	client, err := transport.NewClient(transport.ClientConfig{
		Address: "127.0.0.1",
		Port:    lis.Addr().(*net.TCPAddr).Port,
		Hooks:   cg.Hooks(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.Execute("hello"); !errors.Is(err, keys.ErrKeyUnavailable) {
		t.Errorf("Execute before exchange error = %v, want ErrKeyUnavailable", err)
	}
}

func TestMalformedPeerKeyClosesConnection(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	sg := newServerGateway(t, handshake.ServerConfig{KeyPair: serverKP})
	server := startGatewayServer(t, sg, transport.Hooks{})

	peer := dialRawPeer(t, server)
	if _, err := wire.Parse(peer.next()); err != nil {
		t.Fatalf("server bootstrap frame did not parse: %v", err)
	}

	peer.send(wire.Command{Name: wire.BootstrapCommand, Args: []string{"not a key"}})
	peer.expectClose()

	if sg.PeerCount() != 0 {
		t.Errorf("PeerCount = %d after malformed key, want 0", sg.PeerCount())
	}
	eventually(t, 2*time.Second, func() bool { return server.ConnectionCount() == 0 },
		"server kept the poisoned connection")
}

func TestServerEncryptsOnTheWire(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	serverDone := make(chan *transport.Conn, 1)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:    serverKP,
		OnComplete: func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, transport.Hooks{})
	peer := dialRawPeer(t, server)

	// The server announces its key in clear text.
	hello, err := wire.Parse(peer.next())
	if err != nil {
		t.Fatalf("server bootstrap frame did not parse: %v", err)
	}
	if hello.Name != wire.BootstrapCommand || len(hello.Args) != 1 {
		t.Fatalf("server bootstrap = %v, want %s with one argument", hello, wire.BootstrapCommand)
	}
	if _, err := keys.DecodePublicPEM([]byte(hello.Args[0])); err != nil {
		t.Fatalf("server bootstrap key did not decode: %v", err)
	}

	// Answer with our own key, still in clear text.
	kp := testKeyPair(t, 1024)
	pemText, err := keys.EncodePublicPEM(kp.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicPEM failed: %v", err)
	}
	peer.send(wire.Command{Name: wire.BootstrapCommand, Args: []string{string(pemText)}})
	conn := waitConn(t, serverDone)

	// Everything after the exchange leaves the server encrypted: the
	// inner terminator travels inside the ciphertext, only the outer
	// one is visible.
	if err := server.Execute(conn.ID(), "greet", "wire"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	sealed := peer.next()
	if bytes.Contains(sealed, []byte("greet")) {
		t.Error("command name visible on the wire")
	}
	plain, err := keys.Decrypt(kp.PrivateKey, sealed)
	if err != nil {
		t.Fatalf("manual decrypt failed: %v", err)
	}
	if !bytes.HasSuffix(plain, []byte(wire.EndSign)) {
		t.Error("decrypted frame lost its inner terminator")
	}
	cmd, err := wire.Parse(plain)
	if err != nil {
		t.Fatalf("decrypted frame did not parse: %v", err)
	}
	if cmd.Name != "greet" || len(cmd.Args) != 1 || cmd.Args[0] != "wire" {
		t.Errorf("decrypted command = %v, want greet(wire)", cmd)
	}
}

func TestSessionUpgradeLiftsPayloadCap(t *testing.T) {
	serverKP := testKeyPair(t, 2048)
	serverDone := make(chan *transport.Conn, 1)
	serverCmds := make(chan wire.Command, 4)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:       serverKP,
		SessionCipher: true,
		OnComplete:    func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, appCommands(serverCmds))

	clientCmds := make(chan wire.Command, 4)
	cg := newClientGateway(t, handshake.ClientConfig{SessionCipher: true})
	client := connectClient(t, server, cg, appCommands(clientCmds))

	conn := waitConn(t, serverDone)
	waitReady(t, cg)

	if err := client.Execute("hello", "stream"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	cmd := waitCommand(t, serverCmds)
	if cmd.Name != "hello" || len(cmd.Args) != 1 || cmd.Args[0] != "stream" {
		t.Errorf("server received %v, want hello(stream)", cmd)
	}

	if err := server.Execute(conn.ID(), "pong"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if cmd := waitCommand(t, clientCmds); cmd.Name != "pong" {
		t.Errorf("client received %v, want pong", cmd)
	}

	// Far beyond any OAEP block; only the stream cipher carries this.
	long := strings.Repeat("x", 4096)
	if err := client.Execute("blob", long); err != nil {
		t.Fatalf("Execute of large frame failed: %v", err)
	}
	cmd = waitCommand(t, serverCmds)
	if cmd.Name != "blob" || len(cmd.Args) != 1 || cmd.Args[0] != long {
		t.Errorf("server received %q with %d args", cmd.Name, len(cmd.Args))
	}

	if err := server.Execute(conn.ID(), "blob", long); err != nil {
		t.Fatalf("Execute of large frame failed: %v", err)
	}
	cmd = waitCommand(t, clientCmds)
	if cmd.Name != "blob" || len(cmd.Args) != 1 || cmd.Args[0] != long {
		t.Errorf("client received %q with %d args", cmd.Name, len(cmd.Args))
	}
}

func TestSessionClientDisabledStaysRSA(t *testing.T) {
	serverKP := testKeyPair(t, 2048)
	serverDone := make(chan *transport.Conn, 1)
	serverCmds := make(chan wire.Command, 4)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:       serverKP,
		SessionCipher: true,
		OnComplete:    func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, appCommands(serverCmds))

	clientCmds := make(chan wire.Command, 4)
	cg := newClientGateway(t, handshake.ClientConfig{})
	client := connectClient(t, server, cg, appCommands(clientCmds))

	conn := waitConn(t, serverDone)
	waitReady(t, cg)

	// Without a client-side upgrade both directions stay on RSA.
	if err := client.Execute("hello"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if cmd := waitCommand(t, serverCmds); cmd.Name != "hello" {
		t.Errorf("server received %v, want hello", cmd)
	}
	if err := server.Execute(conn.ID(), "pong"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if cmd := waitCommand(t, clientCmds); cmd.Name != "pong" {
		t.Errorf("client received %v, want pong", cmd)
	}

	// The modulus cap is still in force.
	err := client.Execute("blob", strings.Repeat("x", 200))
	if !errors.Is(err, keys.ErrPayloadTooLarge) {
		t.Errorf("oversize Execute error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSessionServerDisabledDropsConnection(t *testing.T) {
	serverKP := testKeyPair(t, 2048)
	serverCmds := make(chan wire.Command, 4)
	sg := newServerGateway(t, handshake.ServerConfig{KeyPair: serverKP})
	server := startGatewayServer(t, sg, appCommands(serverCmds))

	disconnected := make(chan struct{}, 1)
	cg := newClientGateway(t, handshake.ClientConfig{SessionCipher: true})
	client := connectClient(t, server, cg, transport.Hooks{
		OnDisconnect: func(*transport.Conn, error) { disconnected <- struct{}{} },
	})
	waitReady(t, cg)

	// The client seals with the stream cipher the server never
	// installed; the server cannot read the frame and drops the
	// connection.
	if err := client.Execute("hello"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	select {
	case cmd := <-serverCmds:
		t.Errorf("server decoded %v without the stream cipher", cmd)
	default:
	}
}

func TestReconnectUsesFreshKeys(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	serverDone := make(chan *transport.Conn, 2)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:    serverKP,
		OnComplete: func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, transport.Hooks{})

	cg := newClientGateway(t, handshake.ClientConfig{})
	client, err := transport.NewClient(transport.ClientConfig{
		Address: "127.0.0.1",
		Port:    server.Addr().(*net.TCPAddr).Port,
		Hooks:   cg.Hooks(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	first := waitConn(t, serverDone)
	waitReady(t, cg)
	firstFP := keys.Fingerprint(mustPeerKey(t, sg, first.ID()))

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	eventually(t, 2*time.Second, func() bool { return sg.PeerCount() == 0 },
		"peer key survived disconnect")

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	second := waitConn(t, serverDone)
	waitReady(t, cg)
	secondFP := keys.Fingerprint(mustPeerKey(t, sg, second.ID()))

	if second.ID() == first.ID() {
		t.Errorf("connection ID %d reused", second.ID())
	}
	if firstFP == secondFP {
		t.Error("reconnect reused the ephemeral key pair")
	}
	if sg.HasPeerKey(first.ID()) {
		t.Error("stale peer key for the first connection")
	}
}

func TestPerConnectionKeysAreIsolated(t *testing.T) {
	serverKP := testKeyPair(t, 1024)
	serverDone := make(chan *transport.Conn, 2)
	sg := newServerGateway(t, handshake.ServerConfig{
		KeyPair:    serverKP,
		OnComplete: func(conn *transport.Conn) { serverDone <- conn },
	})
	server := startGatewayServer(t, sg, transport.Hooks{})

	cmdsA := make(chan wire.Command, 4)
	cgA := newClientGateway(t, handshake.ClientConfig{})
	connectClient(t, server, cgA, appCommands(cmdsA))
	connA := waitConn(t, serverDone)
	waitReady(t, cgA)

	cmdsB := make(chan wire.Command, 4)
	cgB := newClientGateway(t, handshake.ClientConfig{})
	connectClient(t, server, cgB, appCommands(cmdsB))
	connB := waitConn(t, serverDone)
	waitReady(t, cgB)

	if sg.PeerCount() != 2 {
		t.Fatalf("PeerCount = %d, want 2", sg.PeerCount())
	}
	fpA := keys.Fingerprint(mustPeerKey(t, sg, connA.ID()))
	fpB := keys.Fingerprint(mustPeerKey(t, sg, connB.ID()))
	if fpA == fpB {
		t.Error("two connections share one ephemeral key")
	}

	// Targeted sends reach only their connection.
	if err := server.Execute(connA.ID(), "target", "a"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if cmd := waitCommand(t, cmdsA); len(cmd.Args) != 1 || cmd.Args[0] != "a" {
		t.Errorf("client A received %v, want target(a)", cmd)
	}
	select {
	case cmd := <-cmdsB:
		t.Errorf("client B received %v meant for A", cmd)
	default:
	}

	if err := server.Execute(connB.ID(), "target", "b"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if cmd := waitCommand(t, cmdsB); len(cmd.Args) != 1 || cmd.Args[0] != "b" {
		t.Errorf("client B received %v, want target(b)", cmd)
	}
}
