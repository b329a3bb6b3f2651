package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/comlink-protocol/comlink-go/pkg/log"
)

// Stats aggregates one .clog file.
type Stats struct {
	Total       int
	ByDirection map[log.Direction]int
	ByLayer     map[log.Layer]int
	ByCategory  map[log.Category]int
	Commands    map[string]int
	Connections map[string]*ConnectionStats
	Errors      int
	First       time.Time
	Last        time.Time
}

// ConnectionStats aggregates the events of a single connection,
// keyed by trace ID.
type ConnectionStats struct {
	FirstSeen         time.Time
	LastSeen          time.Time
	Events            int
	Commands          int
	Role              string
	RemoteAddr        string
	Fingerprint       string
	HandshakeComplete bool
}

// Collect reads every event from a .clog file into a Stats summary.
func Collect(path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	stats := &Stats{
		ByDirection: make(map[log.Direction]int),
		ByLayer:     make(map[log.Layer]int),
		ByCategory:  make(map[log.Category]int),
		Commands:    make(map[string]int),
		Connections: make(map[string]*ConnectionStats),
	}

	reader := log.NewReader(f)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.Total++
	s.ByDirection[event.Direction]++
	s.ByLayer[event.Layer]++
	s.ByCategory[event.Category]++

	if s.First.IsZero() || event.Timestamp.Before(s.First) {
		s.First = event.Timestamp
	}
	if event.Timestamp.After(s.Last) {
		s.Last = event.Timestamp
	}

	conn := s.Connections[event.ConnectionID]
	if conn == nil {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.Role == "" {
		conn.Role = event.LocalRole.String()
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}

	switch {
	case event.Command != nil:
		s.Commands[event.Command.Name]++
		conn.Commands++
	case event.Handshake != nil:
		if conn.Fingerprint == "" {
			conn.Fingerprint = event.Handshake.Fingerprint
		}
		if event.Handshake.Complete {
			conn.HandshakeComplete = true
		}
	case event.Error != nil:
		s.Errors++
	}
}

// RunStats summarizes a .clog file on w.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	stats.write(w)
	return nil
}

func (s *Stats) write(w io.Writer) {
	if s.Total == 0 {
		fmt.Fprintln(w, "no events")
		return
	}

	span := s.Last.Sub(s.First).Round(time.Millisecond)
	fmt.Fprintf(w, "events      %d over %s (%s to %s)\n", s.Total, span,
		s.First.UTC().Format(time.RFC3339), s.Last.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "direction   in %d, out %d\n",
		s.ByDirection[log.DirectionIn], s.ByDirection[log.DirectionOut])
	fmt.Fprintf(w, "layers      transport %d, wire %d, service %d\n",
		s.ByLayer[log.LayerTransport], s.ByLayer[log.LayerWire], s.ByLayer[log.LayerService])
	fmt.Fprintf(w, "categories  command %d, handshake %d, state %d, error %d\n",
		s.ByCategory[log.CategoryCommand], s.ByCategory[log.CategoryHandshake],
		s.ByCategory[log.CategoryState], s.ByCategory[log.CategoryError])

	if len(s.Commands) > 0 {
		fmt.Fprintln(w, "\ncommands")
		for _, name := range s.sortedCommandNames() {
			fmt.Fprintf(w, "  %-16s %d\n", name, s.Commands[name])
		}
	}

	fmt.Fprintf(w, "\nconnections %d\n", len(s.Connections))
	for _, conn := range s.sortedConnections() {
		trace := conn.trace
		if len(trace) > 8 {
			trace = trace[:8]
		}
		alive := conn.stats.LastSeen.Sub(conn.stats.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events over %s\n", trace, conn.stats.Events, alive)
		if conn.stats.RemoteAddr != "" {
			fmt.Fprintf(w, "      remote %s (%s side)\n", conn.stats.RemoteAddr, conn.stats.Role)
		}
		if conn.stats.Commands > 0 {
			fmt.Fprintf(w, "      commands %d\n", conn.stats.Commands)
		}
		if conn.stats.Fingerprint != "" {
			state := "pending"
			if conn.stats.HandshakeComplete {
				state = "complete"
			}
			fmt.Fprintf(w, "      handshake %s, peer key %s\n", state, conn.stats.Fingerprint)
		}
	}

	if s.Errors > 0 {
		fmt.Fprintf(w, "\nerrors      %d\n", s.Errors)
	}
}

// sortedCommandNames orders command names by frequency, ties by name.
func (s *Stats) sortedCommandNames() []string {
	names := make([]string, 0, len(s.Commands))
	for name := range s.Commands {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.Commands[names[i]] != s.Commands[names[j]] {
			return s.Commands[names[i]] > s.Commands[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

type connEntry struct {
	trace string
	stats *ConnectionStats
}

// sortedConnections orders connections by first appearance.
func (s *Stats) sortedConnections() []connEntry {
	conns := make([]connEntry, 0, len(s.Connections))
	for trace, cs := range s.Connections {
		conns = append(conns, connEntry{trace, cs})
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
	})
	return conns
}
