package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events onto a standard slog.Logger so
// development runs can watch the protocol without a .clog viewer.
// Error events log at Warn, everything else at Debug.
type SlogAdapter struct {
	base *slog.Logger
}

// NewSlogAdapter wraps logger as a protocol event sink.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{base: logger}
}

var _ Logger = (*SlogAdapter)(nil)

// Log emits one slog record named after the event's payload.
func (a *SlogAdapter) Log(event Event) {
	msg, level, payload := describe(event)

	attrs := make([]slog.Attr, 0, 6+len(payload))
	attrs = append(attrs,
		slog.String("conn", event.ConnectionID),
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	)
	if event.ConnNum > 0 {
		attrs = append(attrs, slog.Uint64("num", event.ConnNum))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	attrs = append(attrs, payload...)

	a.base.LogAttrs(context.Background(), level, msg, attrs...)
}

// describe picks the record message, severity, and payload attributes
// for the event. Suppressed commands keep their name but never their
// arguments.
func describe(event Event) (string, slog.Level, []slog.Attr) {
	switch {
	case event.Command != nil:
		cmd := event.Command
		attrs := []slog.Attr{slog.String("name", cmd.Name)}
		switch {
		case cmd.Suppressed:
			attrs = append(attrs, slog.Bool("suppressed", true))
		case len(cmd.Args) > 0:
			attrs = append(attrs, slog.Any("args", cmd.Args))
		}
		if cmd.Encrypted {
			attrs = append(attrs, slog.Bool("encrypted", true))
		}
		return "protocol command", slog.LevelDebug, attrs

	case event.Handshake != nil:
		hs := event.Handshake
		attrs := []slog.Attr{
			slog.String("peer", hs.Fingerprint),
			slog.Bool("complete", hs.Complete),
		}
		if hs.KeyBits > 0 {
			attrs = append(attrs, slog.Int("bits", hs.KeyBits))
		}
		return "protocol handshake", slog.LevelDebug, attrs

	case event.StateChange != nil:
		sc := event.StateChange
		attrs := []slog.Attr{slog.String("to", sc.NewState)}
		if sc.OldState != "" {
			attrs = append(attrs, slog.String("from", sc.OldState))
		}
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
		return "connection state", slog.LevelDebug, attrs

	case event.Error != nil:
		attrs := []slog.Attr{
			slog.String("err", event.Error.Message),
			slog.String("at", event.Error.Layer.String()),
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("op", event.Error.Context))
		}
		return "protocol error", slog.LevelWarn, attrs
	}

	return "protocol event", slog.LevelDebug, nil
}
