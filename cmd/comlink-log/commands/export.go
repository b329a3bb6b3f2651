package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// record is the flattened export row shared by both output formats.
// Payload fields are left empty when the event does not carry them.
type record struct {
	Timestamp   string   `json:"ts"`
	Conn        string   `json:"conn,omitempty"`
	Num         uint64   `json:"num"`
	Direction   string   `json:"dir"`
	Layer       string   `json:"layer"`
	Category    string   `json:"category"`
	Role        string   `json:"role"`
	Remote      string   `json:"remote,omitempty"`
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	Encrypted   bool     `json:"encrypted,omitempty"`
	Suppressed  bool     `json:"suppressed,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	KeyBits     int      `json:"key_bits,omitempty"`
	OldState    string   `json:"old_state,omitempty"`
	NewState    string   `json:"new_state,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Error       string   `json:"error,omitempty"`
	Context     string   `json:"context,omitempty"`
}

func toRecord(event log.Event) record {
	rec := record{
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Conn:      event.ConnectionID,
		Num:       event.ConnNum,
		Direction: event.Direction.String(),
		Layer:     event.Layer.String(),
		Category:  event.Category.String(),
		Role:      event.LocalRole.String(),
		Remote:    event.RemoteAddr,
	}
	switch {
	case event.Command != nil:
		rec.Command = event.Command.Name
		rec.Encrypted = event.Command.Encrypted
		rec.Suppressed = event.Command.Suppressed
		if !event.Command.Suppressed {
			rec.Args = event.Command.Args
		}
	case event.Handshake != nil:
		rec.Fingerprint = event.Handshake.Fingerprint
		rec.KeyBits = event.Handshake.KeyBits
	case event.StateChange != nil:
		rec.OldState = event.StateChange.OldState
		rec.NewState = event.StateChange.NewState
		rec.Reason = event.StateChange.Reason
	case event.Error != nil:
		rec.Error = event.Error.Message
		rec.Context = event.Error.Context
	}
	return rec
}

// detail summarizes the payload for the single CSV detail column.
func (r record) detail() string {
	switch {
	case r.Command != "":
		if r.Suppressed {
			return r.Command + " (arguments suppressed)"
		}
		if len(r.Args) > 0 {
			return r.Command + "(" + strings.Join(r.Args, " ") + ")"
		}
		return r.Command
	case r.Fingerprint != "":
		return "peer key " + r.Fingerprint
	case r.NewState != "":
		if r.OldState != "" {
			return r.OldState + " -> " + r.NewState
		}
		return r.NewState
	case r.Error != "":
		return r.Error
	}
	return ""
}

// RunExport converts a .clog file into a line-oriented format on w.
// Supported formats are "jsonl" (one JSON object per event) and "csv".
func RunExport(path, format string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	reader := log.NewReader(f)
	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format %q, want jsonl or csv", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := enc.Encode(toRecord(event)); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"ts", "conn", "num", "dir", "layer", "category", "role", "remote", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		rec := toRecord(event)
		row := []string{
			rec.Timestamp,
			rec.Conn,
			strconv.FormatUint(rec.Num, 10),
			rec.Direction,
			rec.Layer,
			rec.Category,
			rec.Role,
			rec.Remote,
			rec.detail(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
}
