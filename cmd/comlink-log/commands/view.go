// Package commands implements the comlink-log subcommands.
package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// RunView streams the matching events from a .clog file to w, one
// block of text per event.
func RunView(path string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	reader := log.NewFilteredReader(f, filter)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		writeEvent(w, event)
	}
}

// writeEvent renders one event as a header line plus indented detail
// lines.
func writeEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s %-3s %s/%s %s\n",
		ts, event.Direction, event.Layer, event.Category, connLabel(event))

	switch {
	case event.Command != nil:
		fmt.Fprintf(w, "    %s\n", commandLine(event.Command))
	case event.Handshake != nil:
		fmt.Fprintf(w, "    %s\n", handshakeLine(event.Handshake))
	case event.StateChange != nil:
		fmt.Fprintf(w, "    %s\n", stateLine(event.StateChange))
	case event.Error != nil:
		fmt.Fprintf(w, "    %s\n", errorLine(event.Error))
	}

	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "    remote %s, local role %s\n", event.RemoteAddr, event.LocalRole)
	}
	fmt.Fprintln(w)
}

// connLabel identifies the connection as trace prefix and number.
// Client-side events carry no number and show the trace alone.
func connLabel(event log.Event) string {
	trace := event.ConnectionID
	if len(trace) > 8 {
		trace = trace[:8]
	}
	if trace == "" {
		return fmt.Sprintf("conn=%d", event.ConnNum)
	}
	if event.LocalRole == log.RoleClient {
		return "conn=" + trace
	}
	return fmt.Sprintf("conn=%s#%d", trace, event.ConnNum)
}

func commandLine(cmd *log.CommandEvent) string {
	var b strings.Builder
	b.WriteString("command ")
	b.WriteString(cmd.Name)
	switch {
	case cmd.Suppressed:
		b.WriteString(" (arguments suppressed)")
	case len(cmd.Args) > 0:
		b.WriteString("(")
		b.WriteString(strings.Join(cmd.Args, ", "))
		b.WriteString(")")
	}
	if cmd.Encrypted {
		b.WriteString(" [encrypted]")
	}
	return b.String()
}

func handshakeLine(hs *log.HandshakeEvent) string {
	line := fmt.Sprintf("peer key %s", hs.Fingerprint)
	if hs.KeyBits > 0 {
		line += fmt.Sprintf(" (%d bits)", hs.KeyBits)
	}
	if hs.Complete {
		line += ", exchange complete"
	}
	return line
}

func stateLine(sc *log.StateChangeEvent) string {
	line := "state "
	if sc.OldState != "" {
		line += sc.OldState + " -> "
	}
	line += sc.NewState
	if sc.Reason != "" {
		line += " (" + sc.Reason + ")"
	}
	return line
}

func errorLine(e *log.ErrorEventData) string {
	line := fmt.Sprintf("error at %s: %s", strings.ToLower(e.Layer.String()), e.Message)
	if e.Context != "" {
		line += " (" + e.Context + ")"
	}
	return line
}
