package app

import (
	"errors"
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotOnline = errors.New("user not online")

// Registry maps an identity to its single live connection.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*core.Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[domain.UserID]*core.Client),
	}
}

// Register binds uid to c unconditionally. When another connection was bound
// to uid it is returned so the caller can decide what to do with it.
func (r *Registry) Register(uid domain.UserID, c *core.Client) (superseded *core.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.clients[uid]; ok && prev != c {
		superseded = prev
	}
	r.clients[uid] = c
	ev := log.Info().Str("module", "app.registry").Stringer("uid", uid).Str("conn", c.ConnID())
	if superseded != nil {
		ev = ev.Str("superseded", superseded.ConnID())
	}
	ev.Msg("registered")
	return superseded
}

func (r *Registry) Lookup(uid domain.UserID) (*core.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[uid]
	return c, ok
}

// Unregister drops the binding only while it still points at c, so a late
// close of a superseded connection cannot evict the newer one.
func (r *Registry) Unregister(uid domain.UserID, c *core.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.clients[uid]
	if !ok || cur != c {
		log.Debug().Str("module", "app.registry").Stringer("uid", uid).Str("conn", c.ConnID()).Msg("stale unregister ignored")
		return false
	}
	delete(r.clients, uid)
	log.Info().Str("module", "app.registry").Stringer("uid", uid).Str("conn", c.ConnID()).Msg("unregistered")
	return true
}

// Send queues f on the connection bound to uid. It never blocks: an absent
// identity yields ErrNotOnline and a full or closed queue yields the
// connection's error.
func (r *Registry) Send(uid domain.UserID, f core.Frame) (*core.Client, error) {
	c, ok := r.Lookup(uid)
	if !ok {
		return nil, ErrNotOnline
	}
	if err := c.Send(f); err != nil {
		return c, err
	}
	return c, nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
