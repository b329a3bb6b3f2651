package log

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects a subset of events. Zero-valued fields match
// everything; set fields must all match.
type Filter struct {
	// ConnectionID matches the connection trace ID exactly.
	ConnectionID string

	// ConnNum matches the server-assigned connection number.
	ConnNum *uint64

	// Direction matches inbound or outbound events.
	Direction *Direction

	// Layer matches the protocol layer.
	Layer *Layer

	// Category matches the event category.
	Category *Category

	// CommandName matches command events by name. Events without a
	// command payload never match when this is set.
	CommandName string

	// Since matches events stamped at or after this time.
	Since *time.Time

	// Until matches events stamped strictly before this time.
	Until *time.Time
}

// Matches reports whether event satisfies every set criterion.
func (f Filter) Matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.ConnNum != nil && event.ConnNum != *f.ConnNum:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Since != nil && event.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && !event.Timestamp.Before(*f.Until):
		return false
	}
	if f.CommandName != "" {
		return event.Command != nil && event.Command.Name == f.CommandName
	}
	return true
}

// Reader decodes events from a .clog stream. It does not own the
// underlying reader; callers that open a file close it themselves.
type Reader struct {
	dec    *cbor.Decoder
	filter Filter
}

// NewReader reads every event from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: NewDecoder(r)}
}

// NewFilteredReader reads the events from r that match filter,
// silently skipping the rest.
func NewFilteredReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: NewDecoder(r), filter: filter}
}

// Next returns the next matching event. It returns io.EOF after the
// last event; any other error means the stream is corrupt from the
// current position on.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// ReadFile loads all matching events from a .clog file into memory.
// Suited to analysis passes; streaming consumers should open the file
// and use a Reader directly.
func ReadFile(path string, filter Filter) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	reader := NewFilteredReader(f, filter)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
}
