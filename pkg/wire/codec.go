package wire

import (
	"bytes"
	"errors"
	"strings"
)

// Wire tokens. All three are reserved: command names and arguments
// must not contain them.
const (
	// EndSign terminates every frame.
	EndSign = "<|EOM|>"

	// ArgSign separates the command name from its first argument.
	ArgSign = "<|EON|>"

	// SepSign separates adjacent arguments.
	SepSign = "<|EOA|>"
)

// Byte forms of the tokens, computed once for buffer scanning.
var (
	endSign = []byte(EndSign)
	argSign = []byte(ArgSign)
	sepSign = []byte(SepSign)

	bootstrapName = []byte(BootstrapCommand)
	sessionName   = []byte(SessionCommand)
)

var (
	// ErrIncompleteFrame means the buffer holds no frame terminator
	// yet. Read more data and retry; the buffer is not corrupt.
	ErrIncompleteFrame = errors.New("incomplete frame")

	// ErrEmptyFrame means a terminator arrived with no frame body.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrEmptyName means the frame body carries no command name.
	ErrEmptyName = errors.New("empty command name")

	// ErrReservedToken means a command name or argument contains one
	// of the wire tokens.
	ErrReservedToken = errors.New("reserved wire token")
)

// Encode renders a command as a single terminated wire frame.
func Encode(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(cmd.Name)
	for i, arg := range cmd.Args {
		if i == 0 {
			b.WriteString(ArgSign)
		} else {
			b.WriteString(SepSign)
		}
		b.WriteString(arg)
	}
	b.WriteString(EndSign)
	return []byte(b.String()), nil
}

// Seal appends the clear-text frame terminator to an encrypted frame.
// Ciphertext hides the inner terminator, so the outer one appended
// here is what the receiving side splits the stream on.
func Seal(ciphertext []byte) []byte {
	sealed := make([]byte, 0, len(ciphertext)+len(endSign))
	sealed = append(sealed, ciphertext...)
	return append(sealed, endSign...)
}

// Next splits the first complete frame off buf. It returns the frame
// body without its terminator, the unconsumed remainder, and whether a
// terminator was found. Both slices alias buf; callers that retain the
// frame past the next read must copy it.
func Next(buf []byte) (frame, rest []byte, ok bool) {
	i := bytes.Index(buf, endSign)
	if i < 0 {
		return nil, buf, false
	}
	return buf[:i], buf[i+len(endSign):], true
}

// Parse decodes one complete frame body into a command. A single
// trailing EndSign is tolerated: decrypted frames carry their inner
// terminator, frames split by Next do not, and both parse identically.
func Parse(frame []byte) (Command, error) {
	frame = bytes.TrimSuffix(frame, endSign)
	if len(frame) == 0 {
		return Command{}, ErrEmptyFrame
	}

	name, argPart, hasArgs := bytes.Cut(frame, argSign)
	if len(name) == 0 {
		return Command{}, ErrEmptyName
	}

	cmd := Command{Name: string(name)}
	if hasArgs {
		parts := bytes.Split(argPart, sepSign)
		cmd.Args = make([]string, len(parts))
		for i, p := range parts {
			cmd.Args[i] = string(p)
		}
	}
	return cmd, nil
}

// Decode splits and parses the first complete frame in buf. rest holds
// the unconsumed bytes in every case: on ErrIncompleteFrame it is buf
// itself, on a parse failure it is the bytes after the consumed frame,
// so the caller's accumulation loop stays consistent.
func Decode(buf []byte) (Command, []byte, error) {
	frame, rest, ok := Next(buf)
	if !ok {
		return Command{}, rest, ErrIncompleteFrame
	}
	cmd, err := Parse(frame)
	if err != nil {
		return Command{}, rest, err
	}
	return cmd, rest, nil
}

// IsBootstrapFrame reports whether a raw frame body carries the
// public_key command. The check runs on undecrypted bytes: bootstrap
// frames are always clear text, so classification never needs a key,
// and ciphertext starting with the literal prefix is vanishingly
// unlikely.
func IsBootstrapFrame(raw []byte) bool {
	return hasCommandPrefix(raw, bootstrapName)
}

// IsSessionFrame reports whether a plain-text frame body carries the
// session_key command. Cipher gateways use it to recognize their own
// upgrade frame before encryption.
func IsSessionFrame(frame []byte) bool {
	return hasCommandPrefix(frame, sessionName)
}

func hasCommandPrefix(frame, name []byte) bool {
	if !bytes.HasPrefix(frame, name) {
		return false
	}
	rest := frame[len(name):]
	return len(rest) == 0 ||
		bytes.HasPrefix(rest, argSign) ||
		bytes.HasPrefix(rest, endSign)
}
