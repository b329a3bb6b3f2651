package transport

import (
	"sort"
	"sync"
)

// Registry tracks live connections by numeric ID. A server owns one
// registry; entries are inserted before OnConnect fires and removed
// after the connection closes, so hooks always observe a registered
// connection.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint64]*Conn),
	}
}

// Insert adds a connection under its ID. Inserting an ID twice
// replaces the entry; IDs are never reused, so this does not happen
// during normal operation.
func (r *Registry) Insert(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Get returns the connection registered under id.
func (r *Registry) Get(id uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Remove deletes the connection registered under id. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the registered connections sorted by ascending ID.
// The slice is a copy; iterating it is safe while connections come
// and go.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ID() < conns[j].ID()
	})
	return conns
}
