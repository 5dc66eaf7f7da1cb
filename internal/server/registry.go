package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Poovarasan1009/chat-app/internal/presence"
)

// Registry owns the lifecycle of every live connection and keeps the
// presence table in step with it. It is the only component that creates or
// tears down handles; everyone else borrows them through presence lookups.
type Registry struct {
	log      *zap.Logger
	presence presence.Table
	metrics  *chatMetrics

	mu    sync.Mutex
	conns map[string]*conn
}

// NewRegistry builds an empty connection registry bound to a presence table.
func NewRegistry(log *zap.Logger, table presence.Table, metrics *chatMetrics) *Registry {
	return &Registry{
		log:      log,
		presence: table,
		metrics:  metrics,
		conns:    make(map[string]*conn),
	}
}

// Register binds an authenticated connection to its user and marks the user
// online. Called exactly once per connection, after authentication succeeds.
func (r *Registry) Register(c *conn, userID uint, username string) {
	r.mu.Lock()
	c.userID = userID
	c.username = username
	r.conns[c.id] = c
	r.mu.Unlock()

	r.presence.SetOnline(userID, c)
	r.metrics.incConnection()
	r.log.Info("connection bound",
		zap.String("conn_id", c.id),
		zap.Uint("user_id", userID),
		zap.String("username", username))
}

// Unregister tears a connection down and reports whether the user actually
// went offline. Safe to call more than once, and safe for a connection that
// never completed registration; both are no-ops. The user is marked offline
// only if this connection is still the one the presence table points at — a
// reconnect may already have replaced it.
func (r *Registry) Unregister(c *conn) bool {
	c.close()

	r.mu.Lock()
	_, tracked := r.conns[c.id]
	delete(r.conns, c.id)
	r.mu.Unlock()

	if !tracked {
		return false
	}
	r.metrics.decConnection()

	if !c.bound() {
		return false
	}

	wentOffline := r.presence.SetOfflineIfHandle(c.userID, c.id)
	r.log.Info("connection closed",
		zap.String("conn_id", c.id),
		zap.Uint("user_id", c.userID))
	return wentOffline
}

// Push sends an event over a specific handle, best-effort. Failure (stale
// handle, closed connection, full buffer) is reported to the caller but must
// never be escalated beyond logging.
func (r *Registry) Push(h presence.Handle, evt Event) error {
	c, ok := h.(*conn)
	if !ok {
		return errStaleHandle
	}
	return c.push(evt)
}

// Bound returns a snapshot of every currently-bound connection. Fan-outs
// iterate the snapshot so no push happens under the registry lock.
func (r *Registry) Bound() []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.bound() {
			out = append(out, c)
		}
	}
	return out
}
