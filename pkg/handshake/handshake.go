package handshake

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/keys"
	"github.com/comlink-protocol/comlink-go/pkg/log"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// announceKey sends pub to the peer as the clear-text bootstrap frame.
func announceKey(conn *transport.Conn, pub *rsa.PublicKey) error {
	pemText, err := keys.EncodePublicPEM(pub)
	if err != nil {
		return err
	}
	return conn.Execute(wire.BootstrapCommand, string(pemText))
}

// parsePeerKey decodes the single PEM argument of a bootstrap frame.
func parsePeerKey(cmd wire.Command) (*rsa.PublicKey, error) {
	if len(cmd.Args) != 1 {
		return nil, fmt.Errorf("%w: bootstrap frame carries %d arguments, want 1",
			keys.ErrBadKeyMaterial, len(cmd.Args))
	}
	return keys.DecodePublicPEM([]byte(cmd.Args[0]))
}

// logHandshake records key-exchange progress. Keys appear as
// fingerprints only; PEM text never enters the log.
func logHandshake(logger log.Logger, conn *transport.Conn, role log.Role, dir log.Direction, pub *rsa.PublicKey, complete bool) {
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.TraceID(),
		ConnNum:      conn.ID(),
		Direction:    dir,
		Layer:        log.LayerService,
		Category:     log.CategoryHandshake,
		LocalRole:    role,
		RemoteAddr:   conn.RemoteAddr().String(),
		Handshake: &log.HandshakeEvent{
			Fingerprint: keys.Fingerprint(pub),
			KeyBits:     pub.Size() * 8,
			Complete:    complete,
		},
	})
}

func logGatewayError(logger log.Logger, conn *transport.Conn, role log.Role, err error, context string) {
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.TraceID(),
		ConnNum:      conn.ID(),
		Layer:        log.LayerService,
		Category:     log.CategoryError,
		LocalRole:    role,
		RemoteAddr:   conn.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: context,
		},
	})
}

func logSessionUpgrade(logger log.Logger, conn *transport.Conn, role log.Role) {
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.TraceID(),
		ConnNum:      conn.ID(),
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    role,
		RemoteAddr:   conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			OldState: "ESTABLISHED",
			NewState: "SESSION",
			Reason:   "stream cipher active",
		},
	})
}
