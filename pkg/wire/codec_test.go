package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		wire string
	}{
		{
			name: "no arguments",
			cmd:  Command{Name: "ping"},
			wire: "ping<|EOM|>",
		},
		{
			name: "single argument",
			cmd:  Command{Name: "hello", Args: []string{"world"}},
			wire: "hello<|EON|>world<|EOM|>",
		},
		{
			name: "multiple arguments",
			cmd:  Command{Name: "set", Args: []string{"power", "42", "watts"}},
			wire: "set<|EON|>power<|EOA|>42<|EOA|>watts<|EOM|>",
		},
		{
			name: "empty argument preserved",
			cmd:  Command{Name: "tag", Args: []string{"", "x"}},
			wire: "tag<|EON|><|EOA|>x<|EOM|>",
		},
		{
			name: "single empty argument",
			cmd:  Command{Name: "mark", Args: []string{""}},
			wire: "mark<|EON|><|EOM|>",
		},
		{
			name: "argument with spaces and punctuation",
			cmd:  Command{Name: "say", Args: []string{"hello, world!", "a=b&c"}},
			wire: "say<|EON|>hello, world!<|EOA|>a=b&c<|EOM|>",
		},
		{
			name: "utf-8 argument",
			cmd:  Command{Name: "greet", Args: []string{"héllo", "wörld"}},
			wire: "greet<|EON|>héllo<|EOA|>wörld<|EOM|>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if string(data) != tt.wire {
				t.Errorf("wire mismatch: got %q, want %q", data, tt.wire)
			}

			decoded, rest, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("unexpected remainder: %q", rest)
			}
			if decoded.Name != tt.cmd.Name {
				t.Errorf("Name mismatch: got %q, want %q", decoded.Name, tt.cmd.Name)
			}
			if !reflect.DeepEqual(decoded.Args, tt.cmd.Args) {
				t.Errorf("Args mismatch: got %#v, want %#v", decoded.Args, tt.cmd.Args)
			}
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{
			name:    "empty name",
			cmd:     Command{},
			wantErr: ErrEmptyName,
		},
		{
			name:    "terminator in name",
			cmd:     Command{Name: "bad<|EOM|>name"},
			wantErr: ErrReservedToken,
		},
		{
			name:    "arg sign in name",
			cmd:     Command{Name: "bad<|EON|>"},
			wantErr: ErrReservedToken,
		},
		{
			name:    "separator in argument",
			cmd:     Command{Name: "ok", Args: []string{"a<|EOA|>b"}},
			wantErr: ErrReservedToken,
		},
		{
			name:    "terminator in argument",
			cmd:     Command{Name: "ok", Args: []string{"x", "y<|EOM|>"}},
			wantErr: ErrReservedToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.cmd); !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeIncompleteFrame(t *testing.T) {
	tests := []struct {
		name string
		buf  string
	}{
		{name: "empty buffer", buf: ""},
		{name: "name only", buf: "hello"},
		{name: "mid token", buf: "hello<|EO"},
		{name: "args without terminator", buf: "hello<|EON|>world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rest, err := Decode([]byte(tt.buf))
			if !errors.Is(err, ErrIncompleteFrame) {
				t.Fatalf("Decode error = %v, want ErrIncompleteFrame", err)
			}
			if string(rest) != tt.buf {
				t.Errorf("remainder not preserved: got %q, want %q", rest, tt.buf)
			}
		})
	}
}

// A frame delivered one byte at a time must decode once, at the byte
// that completes the terminator, with every earlier prefix reported as
// incomplete.
func TestDecodeBytewiseFeed(t *testing.T) {
	want := Command{Name: "set", Args: []string{"mode", "eco"}}
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var buf []byte
	var got *Command
	for i, b := range data {
		buf = append(buf, b)
		cmd, rest, err := Decode(buf)
		switch {
		case err == nil:
			if i != len(data)-1 {
				t.Fatalf("frame completed early at byte %d of %d", i+1, len(data))
			}
			if len(rest) != 0 {
				t.Fatalf("unexpected remainder: %q", rest)
			}
			got = &cmd
			buf = rest
		case errors.Is(err, ErrIncompleteFrame):
			buf = rest
		default:
			t.Fatalf("Decode failed at byte %d: %v", i+1, err)
		}
	}

	if got == nil {
		t.Fatal("frame never completed")
	}
	if got.Name != want.Name || !reflect.DeepEqual(got.Args, want.Args) {
		t.Errorf("decoded %v, want %v", *got, want)
	}
}

// Several frames arriving in one read must come out one at a time, in
// order, through the same remainder-driven loop.
func TestDecodeMultipleFramesPerRead(t *testing.T) {
	cmds := []Command{
		{Name: "first"},
		{Name: "second", Args: []string{"a"}},
		{Name: "third", Args: []string{"b", "c"}},
	}

	var buf []byte
	for _, cmd := range cmds {
		data, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		buf = append(buf, data...)
	}
	// A trailing partial frame must stay in the buffer.
	buf = append(buf, []byte("fourth<|EON|>pend")...)

	var got []Command
	for {
		cmd, rest, err := Decode(buf)
		if errors.Is(err, ErrIncompleteFrame) {
			buf = rest
			break
		}
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		got = append(got, cmd)
		buf = rest
	}

	if len(got) != len(cmds) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(cmds))
	}
	for i := range cmds {
		if got[i].Name != cmds[i].Name {
			t.Errorf("frame %d: got %q, want %q", i, got[i].Name, cmds[i].Name)
		}
	}
	if string(buf) != "fourth<|EON|>pend" {
		t.Errorf("trailing partial frame not preserved: %q", buf)
	}
}

func TestNext(t *testing.T) {
	frame, rest, ok := Next([]byte("a<|EOM|>b<|EOM|>"))
	if !ok {
		t.Fatal("Next found no terminator")
	}
	if string(frame) != "a" {
		t.Errorf("frame = %q, want %q", frame, "a")
	}
	if string(rest) != "b<|EOM|>" {
		t.Errorf("rest = %q, want %q", rest, "b<|EOM|>")
	}

	if _, rest, ok := Next([]byte("partial")); ok || string(rest) != "partial" {
		t.Errorf("Next on partial input: ok=%v rest=%q", ok, rest)
	}
}

func TestSeal(t *testing.T) {
	ciphertext := []byte{0x01, 0x02, 0xff}
	sealed := Seal(ciphertext)
	want := append([]byte{0x01, 0x02, 0xff}, []byte(EndSign)...)
	if !bytes.Equal(sealed, want) {
		t.Errorf("Seal = %q, want %q", sealed, want)
	}

	frame, rest, ok := Next(sealed)
	if !ok || !bytes.Equal(frame, ciphertext) || len(rest) != 0 {
		t.Errorf("Next(Seal(ct)): frame=%q rest=%q ok=%v", frame, rest, ok)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{name: "empty body", frame: "", wantErr: ErrEmptyFrame},
		{name: "terminator only", frame: "<|EOM|>", wantErr: ErrEmptyFrame},
		{name: "args without name", frame: "<|EON|>arg", wantErr: ErrEmptyName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.frame)); !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Decrypted frames arrive with their inner terminator still attached.
// Parse must treat them exactly like bodies already split by Next.
func TestParseToleratesTrailingTerminator(t *testing.T) {
	data, err := Encode(Command{Name: "hello", Args: []string{"world"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cmd, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cmd.Name != "hello" || len(cmd.Args) != 1 || cmd.Args[0] != "world" {
		t.Errorf("unexpected command: %v", cmd)
	}
}

func TestIsBootstrapFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "bootstrap with key argument",
			raw:  "public_key<|EON|>-----BEGIN PUBLIC KEY-----",
			want: true,
		},
		{
			name: "bootstrap body with terminator",
			raw:  "public_key<|EON|>pem<|EOM|>",
			want: true,
		},
		{
			name: "bare bootstrap name",
			raw:  "public_key",
			want: true,
		},
		{
			name: "prefix of longer command name",
			raw:  "public_key_rotate<|EON|>x",
			want: false,
		},
		{
			name: "ordinary command",
			raw:  "hello<|EON|>world",
			want: false,
		},
		{
			name: "ciphertext",
			raw:  "\x8f\x02\xa1\x99binary garbage",
			want: false,
		},
		{
			name: "empty",
			raw:  "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBootstrapFrame([]byte(tt.raw)); got != tt.want {
				t.Errorf("IsBootstrapFrame(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsSessionFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  bool
	}{
		{name: "session with argument", frame: "session_key<|EON|>c2VjcmV0<|EOM|>", want: true},
		{name: "bare session name", frame: "session_key", want: true},
		{name: "prefix of longer name", frame: "session_keys<|EON|>x", want: false},
		{name: "ordinary command", frame: "hello<|EOM|>", want: false},
		{name: "bootstrap frame", frame: "public_key<|EON|>pem<|EOM|>", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSessionFrame([]byte(tt.frame)); got != tt.want {
				t.Errorf("IsSessionFrame(%q) = %v, want %v", tt.frame, got, tt.want)
			}
		})
	}
}

// Next returns subslices of its input. The parse step must copy, so a
// later append into the same backing array cannot corrupt a command
// that was already dispatched.
func TestParsedCommandDoesNotAliasBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte("alpha<|EON|>one<|EOM|>")...)

	cmd, rest, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(rest, []byte{}) && len(rest) != 0 {
		t.Fatalf("unexpected remainder: %q", rest)
	}

	// Overwrite the backing array as a subsequent read would.
	for i := range buf {
		buf[i] = 'X'
	}

	if cmd.Name != "alpha" || cmd.Args[0] != "one" {
		t.Errorf("command mutated by buffer reuse: %v", cmd)
	}
}
