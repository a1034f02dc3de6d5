// Package registry is the single source of truth for "is this user reachable now".
//
// A Hub maps a user identifier to at most one live Connector. Lookups are
// lock-free (sync.Map), and the duplicate-session guard relies on LoadOrStore
// so two racing handshakes for the same user can never both win.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

// Hubber defines the gateway for user session management.
type Hubber interface {
	Register(conn Connector) bool
	Unregister(userID model.UserID)
	Lookup(userID model.UserID) (Connector, bool)
	IsConnected(userID model.UserID) bool
	UserIDs() []model.UserID
	Len() int
	Shutdown()
}

var _ Hubber = (*Hub)(nil)

// Hub implements the connection registry.
type Hub struct {
	// conns stores map[model.UserID]Connector. Optimized for [READ_HEAVY] workloads.
	conns sync.Map
	size  atomic.Int64
}

func NewHub() *Hub {
	return &Hub{}
}

// Register stores the connection unless the user already has one. The
// existing session is never replaced.
func (h *Hub) Register(conn Connector) bool {
	if conn == nil {
		return false
	}
	if _, loaded := h.conns.LoadOrStore(conn.GetUserID(), conn); loaded {
		return false
	}
	h.size.Add(1)
	return true
}

// Unregister removes the mapping unconditionally. No-op when absent.
func (h *Hub) Unregister(userID model.UserID) {
	if _, ok := h.conns.LoadAndDelete(userID); ok {
		h.size.Add(-1)
	}
}

func (h *Hub) Lookup(userID model.UserID) (Connector, bool) {
	val, ok := h.conns.Load(userID)
	if !ok {
		return nil, false
	}
	conn, ok := val.(Connector)
	return conn, ok
}

func (h *Hub) IsConnected(userID model.UserID) bool {
	_, ok := h.conns.Load(userID)
	return ok
}

// UserIDs returns a sorted snapshot. Range tolerates concurrent Register and
// Unregister calls; entries changed mid-iteration may or may not appear.
func (h *Hub) UserIDs() []model.UserID {
	ids := make([]model.UserID, 0, h.Len())
	h.conns.Range(func(key, _ any) bool {
		ids = append(ids, key.(model.UserID))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Hub) Len() int {
	return int(h.size.Load())
}

// Shutdown closes every connection and empties the registry.
func (h *Hub) Shutdown() {
	h.conns.Range(func(key, val any) bool {
		if conn, ok := val.(Connector); ok {
			conn.Close()
		}
		if _, ok := h.conns.LoadAndDelete(key); ok {
			h.size.Add(-1)
		}
		return true
	})
}
