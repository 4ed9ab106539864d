// Package registry tracks which users currently have a live push channel.
//
// The registry is process-local, in-memory state: it is rebuilt empty on
// every start and shares nothing across processes. Durability of
// notifications comes from the persisted record, never from the channel.
package registry

import (
	"sync"

	"github.com/rs/zerolog"
)

// Conn is one open bidirectional push channel to a client.
type Conn interface {
	// WriteJSON serializes the payload and writes it to the channel.
	WriteJSON(v any) error
	// Alive reports whether the channel is still open for writes.
	Alive() bool
}

// Registry maps user ids to their live channel. One channel per user: a
// second registration for the same user replaces the first.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	log   zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		log:   log,
	}
}

// Register stores the channel for the user, replacing any previous one.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	r.conns[userID] = conn
	r.mu.Unlock()
	r.log.Debug().Str("user_id", userID).Msg("connection registered")
}

// Unregister removes the user's entry, but only if it still points at the
// given channel. A reconnect registers a new channel before the old
// socket's teardown runs; the stale teardown must not evict the new one.
// Idempotent: absent entries are fine.
func (r *Registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	if current, ok := r.conns[userID]; ok && (conn == nil || current == conn) {
		delete(r.conns, userID)
	}
	r.mu.Unlock()
}

// Lookup returns the user's channel, or nil when none is registered.
func (r *Registry) Lookup(userID string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Deliver pushes the payload to the user's channel if one is open.
// Best effort only: no queue, no retry. Returns true when exactly one
// write was made.
func (r *Registry) Deliver(userID string, payload any) bool {
	conn := r.Lookup(userID)
	if conn == nil || !conn.Alive() {
		r.log.Debug().Str("user_id", userID).Msg("user not connected, skipping push")
		return false
	}
	if err := conn.WriteJSON(payload); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("push write failed")
		return false
	}
	return true
}

// Len reports the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
