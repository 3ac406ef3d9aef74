package console

import (
	"sync"
	"time"

	"github.com/wardenpanel/warden/internal/domain"
)

// Registry owns the per-server console buffers. Each buffer has a single
// logical writer (the server's output pump) and any number of readers;
// buffers for different servers are independent.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[domain.ServerID]*Buffer
}

// NewRegistry creates a registry whose buffers hold up to capacity lines.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity, buffers: make(map[domain.ServerID]*Buffer)}
}

// Append records a line for a server, creating its buffer on first use, and
// returns the classified line.
func (r *Registry) Append(serverID domain.ServerID, text string, at time.Time) domain.ConsoleLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[serverID]
	if !ok {
		buf = NewBuffer(r.capacity)
		r.buffers[serverID] = buf
	}
	return buf.Append(serverID, text, at)
}

// ReadAll returns the retained lines for a server in insertion order.
func (r *Registry) ReadAll(serverID domain.ServerID) []domain.ConsoleLine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[serverID]
	if !ok {
		return nil
	}
	return buf.ReadAll()
}

// Len reports the retained line count for a server.
func (r *Registry) Len(serverID domain.ServerID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[serverID]
	if !ok {
		return 0
	}
	return buf.Len()
}

// Clear empties a server's buffer. Subscription state and the source process
// are unaffected.
func (r *Registry) Clear(serverID domain.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[serverID]; ok {
		buf.Clear()
	}
}

// Drop discards a server's buffer entirely so a later Append starts empty.
func (r *Registry) Drop(serverID domain.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, serverID)
}
