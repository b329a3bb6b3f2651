package wire

import (
	"fmt"
	"strings"
)

// Command names reserved by the protocol. Frames carrying these names
// are consumed by the handshake layer and never reach application
// handlers.
const (
	// BootstrapCommand transports PEM public-key material in the
	// clear. It is the only command exempt from decryption.
	BootstrapCommand = "public_key"

	// SessionCommand transports an encrypted session secret when the
	// optional session cipher is enabled.
	SessionCommand = "session_key"
)

// Command is a named instruction with ordered string arguments.
// Commands are value objects: encoding and parsing copy all data, so
// nothing aliases transport buffers after dispatch.
type Command struct {
	Name string
	Args []string
}

// Validate checks whether the command can be rendered on the wire.
// The name must be non-empty and no field may contain a wire token.
func (c Command) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if containsToken(c.Name) {
		return fmt.Errorf("%w: command name", ErrReservedToken)
	}
	for i, arg := range c.Args {
		if containsToken(arg) {
			return fmt.Errorf("%w: argument %d", ErrReservedToken, i)
		}
	}
	return nil
}

// IsReserved returns true for protocol-internal command names.
func (c Command) IsReserved() bool {
	return c.Name == BootstrapCommand || c.Name == SessionCommand
}

// String renders the command for logs and errors. Arguments are joined
// verbatim; callers must not pass key material through here.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + "(" + strings.Join(c.Args, ", ") + ")"
}

func containsToken(s string) bool {
	return strings.Contains(s, EndSign) ||
		strings.Contains(s, ArgSign) ||
		strings.Contains(s, SepSign)
}
