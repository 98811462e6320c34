// Package connections is the arena-style Connection registry (spec.md §3,
// §9): connections, rooms, and streams form a graph, so ownership is kept
// as plain ids in each direction (rooms hold connection ids, streams hold
// their owning connection id) and a single authority — whatever embeds this
// registry — walks it on teardown.
package connections

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.WSServer})

// Kind distinguishes the two device roles that can occupy a room.
type Kind string

const (
	KindEditorHost Kind = "editor-host"
	KindMobile     Kind = "mobile"
)

// RoomName returns the workspace room name for workspaceID (spec.md §3).
func RoomName(workspaceID string) string {
	return "workspace:" + workspaceID
}

// Connection is a live client session (spec.md §3). Sender is the
// transport-specific function used to push a raw frame to this connection;
// it's set by whichever server (wsserver or relay) created the Connection.
type Connection struct {
	SocketID     string
	DeviceID     string
	Kind         Kind
	WorkspaceID  string
	ConnectedAt  time.Time
	lastActivity time.Time
	mu           sync.Mutex

	// Send pushes a single outbound frame to this connection. It must be
	// safe for concurrent use, since handlers and room broadcasts may call
	// it from different goroutines.
	Send func(frame []byte) error
}

// Room returns the workspace room this connection belongs to.
func (c *Connection) Room() string {
	return RoomName(c.WorkspaceID)
}

// Touch records inbound activity, keeping LastActivity monotonic.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
}

// LastActivity returns the last time any inbound frame was observed.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Registry is the process-wide set of live connections, keyed by socket id,
// with a secondary room membership index. Membership mutations are atomic
// with respect to the registry's own lock (spec.md §5).
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	rooms   map[string]map[string]struct{} // room name -> set of socket ids
	clock   clockwork.Clock
	onLeave []func(conn *Connection)
}

// New constructs an empty Registry.
func New(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]struct{}),
		clock: clock,
	}
}

// OnLeave registers a callback invoked (synchronously, under no lock) every
// time a connection is removed, so owning layers (streams, inflights) can
// tear down their state without the registry knowing about them.
func (r *Registry) OnLeave(fn func(conn *Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = append(r.onLeave, fn)
}

// Add registers a new connection and joins it to its workspace room. Every
// connection is joined to exactly one room for its lifetime (spec.md §3).
func (r *Registry) Add(conn *Connection) {
	conn.ConnectedAt = r.clock.Now()
	conn.lastActivity = conn.ConnectedAt

	r.mu.Lock()
	r.conns[conn.SocketID] = conn
	room := conn.Room()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][conn.SocketID] = struct{}{}
	r.mu.Unlock()
}

// Get looks up a connection by socket id.
func (r *Registry) Get(socketID string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[socketID]
	if !ok {
		return nil, trace.NotFound("connection %s not found", socketID)
	}
	return c, nil
}

// Remove drops socketID from its room and the registry, then runs every
// OnLeave callback. Membership removal always happens, even if the
// connection was never found (idempotent disconnect handling).
func (r *Registry) Remove(socketID string) {
	r.mu.Lock()
	conn, ok := r.conns[socketID]
	if ok {
		delete(r.conns, socketID)
		if members := r.rooms[conn.Room()]; members != nil {
			delete(members, socketID)
			if len(members) == 0 {
				delete(r.rooms, conn.Room())
			}
		}
	}
	callbacks := r.onLeave
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range callbacks {
		fn(conn)
	}
}

// RoomMembers returns the connections currently joined to room.
func (r *Registry) RoomMembers(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.rooms[room]
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// HasEditorHost reports whether room already has a connected editor-host
// peer, used to enforce the one-editor-host-per-room decision documented
// in SPEC_FULL.md / DESIGN.md.
func (r *Registry) HasEditorHost(room string) bool {
	for _, c := range r.RoomMembers(room) {
		if c.Kind == KindEditorHost {
			return true
		}
	}
	return false
}

// Broadcast sends frame to every connection in room except `except` (empty
// string broadcasts to everyone). Per-sender-per-receiver ordering within a
// room is preserved because each Connection.Send is called sequentially
// here and the transport itself serializes writes per socket.
func (r *Registry) Broadcast(room string, except string, frame []byte) {
	for _, c := range r.RoomMembers(room) {
		if c.SocketID == except {
			continue
		}
		if err := c.Send(frame); err != nil {
			log.WithError(err).WithField("socket_id", c.SocketID).Debug("broadcast send failed")
		}
	}
}
