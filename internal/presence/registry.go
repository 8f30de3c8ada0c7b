package presence

import (
	"errors"
	"sync"

	"voiceconnect/internal/wire"
)

// Conn is one live transport endpoint. Implemented by the websocket client
// and by test fakes. Deliver must not block; slow consumers are the
// transport's problem, not the registry's.
type Conn interface {
	ID() string
	Deliver(ev wire.Event) error
}

// Outbound pairs an event with the connection it should be dispatched to.
type Outbound struct {
	Conn  Conn
	Event wire.Event
}

var ErrDuplicateAttach = errors.New("presence: connection already bound to another identity")

// Registry maps authenticated identities to their live connections.
//
// Invariants:
// - An identity is online iff its connection set is non-empty.
// - Entries are mutated only here, behind a single mutex.
// - Unauthenticated connections are not tracked; they receive no presence
//   notifications and cannot be resolved.
type Registry struct {
	mu         sync.Mutex
	identities map[string]string          // connection id -> identity
	byIdentity map[string]map[string]Conn // identity -> connection id -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]string),
		byIdentity: make(map[string]map[string]Conn),
	}
}

// Attach binds identity to conn. The same binding is idempotent; binding a
// connection to a different identity is ErrDuplicateAttach. When this is the
// identity's first connection, every connection of every other identity gets
// one user:online notification.
func (r *Registry) Attach(conn Conn, identity string) ([]Outbound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.identities[conn.ID()]; ok {
		if bound != identity {
			return nil, ErrDuplicateAttach
		}
		return nil, nil
	}

	set := r.byIdentity[identity]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]Conn)
		r.byIdentity[identity] = set
	}
	set[conn.ID()] = conn
	r.identities[conn.ID()] = identity

	if !first {
		return nil, nil
	}
	return r.broadcastLocked(identity, wire.Event{
		Type: wire.EventUserOnline,
		Data: wire.UserPresence{UserID: identity},
	}), nil
}

// Detach removes the binding. Detaching an unknown connection is a no-op.
// When the identity's set empties, other identities get one user:offline.
func (r *Registry) Detach(conn Conn) []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[conn.ID()]
	if !ok {
		return nil
	}
	delete(r.identities, conn.ID())

	set := r.byIdentity[identity]
	delete(set, conn.ID())
	if len(set) > 0 {
		return nil
	}
	delete(r.byIdentity, identity)

	return r.broadcastLocked(identity, wire.Event{
		Type: wire.EventUserOffline,
		Data: wire.UserPresence{UserID: identity},
	})
}

// Resolve returns the identity's live connections. Empty when offline;
// offline is a normal state, not an error.
func (r *Registry) Resolve(identity string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byIdentity[identity]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Identity reports the identity bound to a connection id.
func (r *Registry) Identity(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[connID]
	return id, ok
}

// Online reports whether the identity has at least one live connection.
func (r *Registry) Online(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity[identity]) > 0
}

// broadcastLocked targets every connection not belonging to identity.
func (r *Registry) broadcastLocked(identity string, ev wire.Event) []Outbound {
	var out []Outbound
	for other, set := range r.byIdentity {
		if other == identity {
			continue
		}
		for _, c := range set {
			out = append(out, Outbound{Conn: c, Event: ev})
		}
	}
	return out
}
