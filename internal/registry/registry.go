// Package registry tracks live discussion connections for event fan-out.
//
// The registry is deliberately ephemeral: it holds no durable state and a
// process restart empties it. Persistent membership lives in storage;
// connections here are weak handles that can vanish at any moment.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/seminarhq/seminar/internal/discussion/participant"
)

// Event is one server frame delivered to live connections.
type Event struct {
	Type         string    `json:"type"`
	DiscussionID string    `json:"discussionId"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Conn is a weak handle to one live connection. Send failures mark the
// connection dead; the registry drops and closes it.
type Conn interface {
	Send(Event) error
	Close()
}

// Session describes one registered connection.
type Session struct {
	Identity   participant.Identity
	LastSeenAt time.Time
}

type entry struct {
	identity participant.Identity
	conn     Conn
	lastSeen time.Time
}

// Registry indexes live connections by discussion and identity.
type Registry struct {
	mu          sync.Mutex
	now         func() time.Time
	discussions map[string]map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		now:         time.Now,
		discussions: make(map[string]map[string]*entry),
	}
}

// Register records a connection for an identity. A prior connection for the
// same identity is replaced and closed; a reconnect always wins.
func (r *Registry) Register(discussionID string, identity participant.Identity, conn Conn) {
	if r == nil || conn == nil {
		return
	}
	key := identity.Key()

	r.mu.Lock()
	sessions, ok := r.discussions[discussionID]
	if !ok {
		sessions = make(map[string]*entry)
		r.discussions[discussionID] = sessions
	}
	var replaced Conn
	if prior, ok := sessions[key]; ok && prior.conn != conn {
		replaced = prior.conn
	}
	sessions[key] = &entry{identity: identity, conn: conn, lastSeen: r.now().UTC()}
	r.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
}

// Unregister removes a connection. The conn argument guards against a stale
// disconnect tearing down the replacement that superseded it.
func (r *Registry) Unregister(discussionID string, identity participant.Identity, conn Conn) {
	if r == nil {
		return
	}
	key := identity.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.discussions[discussionID]
	if !ok {
		return
	}
	current, ok := sessions[key]
	if !ok {
		return
	}
	if conn != nil && current.conn != conn {
		return
	}
	delete(sessions, key)
	if len(sessions) == 0 {
		delete(r.discussions, discussionID)
	}
}

// Touch refreshes an identity's liveness timestamp on frame receipt.
func (r *Registry) Touch(discussionID string, identity participant.Identity) {
	if r == nil {
		return
	}
	key := identity.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if sessions, ok := r.discussions[discussionID]; ok {
		if current, ok := sessions[key]; ok {
			current.lastSeen = r.now().UTC()
		}
	}
}

// ListActive returns a snapshot of the registered sessions.
func (r *Registry) ListActive(discussionID string) []Session {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := r.discussions[discussionID]
	if len(sessions) == 0 {
		return nil
	}
	snapshot := make([]Session, 0, len(sessions))
	for _, current := range sessions {
		snapshot = append(snapshot, Session{Identity: current.identity, LastSeenAt: current.lastSeen})
	}
	return snapshot
}

// CountActive returns the number of registered connections.
func (r *Registry) CountActive(discussionID string) int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discussions[discussionID])
}

// Broadcast delivers an event to every registered connection, best effort.
// A failed send never affects the others; the dead connection is dropped,
// closed and logged.
func (r *Registry) Broadcast(discussionID string, event Event) {
	if r == nil {
		return
	}

	r.mu.Lock()
	sessions := r.discussions[discussionID]
	targets := make([]*entry, 0, len(sessions))
	for _, current := range sessions {
		targets = append(targets, current)
	}
	r.mu.Unlock()

	for _, target := range targets {
		if err := target.conn.Send(event); err != nil {
			log.Printf("registry: drop %s from %s after send failure: %v", target.identity.Key(), discussionID, err)
			r.Unregister(discussionID, target.identity, target.conn)
			target.conn.Close()
		}
	}
}
