package stream

import (
	"log"
	"sync"
)

// Registry tracks the current feed connection per user. Pure connection
// bookkeeping; delivery decisions live in Feed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection // userID -> connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register adds a connection, replacing any existing connection for the
// same user. The replaced connection is closed asynchronously to avoid
// holding the lock across Close.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.UserID() == "" {
		return ErrMissingUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.conns[conn.UserID()]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced feed connection: %v", err)
			}
		}()
	}
	r.conns[conn.UserID()] = conn
	return nil
}

// Unregister removes a connection. It only removes the exact instance that
// is registered, so a stale connection cleaning itself up cannot evict its
// replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.conns[conn.UserID()]; exists && registered == conn {
		delete(r.conns, conn.UserID())
	}
}

// Get returns the current connection for a user.
func (r *Registry) Get(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[userID]
	return conn, exists
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
