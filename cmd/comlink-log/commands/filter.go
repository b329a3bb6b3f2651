package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// FilterOptions carries the raw string form of the filter flags shared
// by the view and filter subcommands.
type FilterOptions struct {
	Conn      string
	Num       string
	Command   string
	Layer     string
	Direction string
	Category  string
	Since     string
	Until     string
}

// Build parses the options into a log.Filter. Empty fields stay
// unset and match everything.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.Conn,
		CommandName:  o.Command,
	}

	if o.Num != "" {
		n, err := strconv.ParseUint(o.Num, 10, 64)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid connection number %q", o.Num)
		}
		filter.ConnNum = &n
	}
	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	if o.Since != "" {
		ts, err := time.Parse(time.RFC3339, o.Since)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid -since time %q, want RFC3339", o.Since)
		}
		filter.Since = &ts
	}
	if o.Until != "" {
		ts, err := time.Parse(time.RFC3339, o.Until)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid -until time %q, want RFC3339", o.Until)
		}
		filter.Until = &ts
	}
	return filter, nil
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("unknown layer %q, want transport, wire, or service", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction %q, want in or out", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "command":
		return log.CategoryCommand, nil
	case "handshake":
		return log.CategoryHandshake, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q, want command, handshake, state, or error", s)
	}
}

// RunFilter copies the matching events from path into a fresh .clog
// file at output. The output file is truncated, not appended, so
// repeated runs stay reproducible.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	filter, err := opts.Build()
	if err != nil {
		return 0, err
	}

	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(output)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}

	enc := log.NewEncoder(out)
	reader := log.NewFilteredReader(in, filter)
	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return count, fmt.Errorf("read event: %w", err)
		}
		if err := enc.Encode(event); err != nil {
			out.Close()
			return count, fmt.Errorf("write event: %w", err)
		}
		count++
	}
	return count, out.Close()
}
