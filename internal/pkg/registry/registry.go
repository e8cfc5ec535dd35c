package registry

import (
	"sync"

	"lanchat/internal/pkg/session"
)

// DefaultRoom is the room every session lands in after the identity
// handshake. It exists for the registry's whole lifetime.
const DefaultRoom = "General"

// CreateResult is the outcome of a CreateRoom call.
type CreateResult int

const (
	CreateOK CreateResult = iota
	CreateDuplicate
)

// JoinResult is the outcome of a JoinRoom call.
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinWrongPassword
	JoinNotFound
)

// BackgroundResult is the outcome of a SetBackground call.
type BackgroundResult int

const (
	BackgroundOK BackgroundResult = iota
	BackgroundForbidden
	BackgroundNotFound
)

type room struct {
	password   string
	owner      string
	background string
	members    map[*session.Session]struct{}
}

// protected reports whether joining requires a password.
func (r *room) protected() bool {
	return r.password != ""
}

// Registry is the authoritative store of rooms and membership. It is the
// single piece of state shared between session handlers, the relay and
// the discovery responder, and serializes every read and write behind
// one lock so callers always observe fully applied joins and leaves.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	order    []string
	sessions map[*session.Session]string
}

// New creates a Registry seeded with the default room.
func New() *Registry {
	return &Registry{
		rooms: map[string]*room{
			DefaultRoom: {members: make(map[*session.Session]struct{})},
		},
		order:    []string{DefaultRoom},
		sessions: make(map[*session.Session]string),
	}
}

// Register adds a freshly identified session to the default room.
func (r *Registry) Register(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s]; ok {
		return
	}
	r.sessions[s] = DefaultRoom
	r.rooms[DefaultRoom].members[s] = struct{}{}
}

// CreateRoom inserts a new room iff the name is not taken. The creator
// becomes the owner but is not moved into the room. An empty password
// leaves the room open to join.
func (r *Registry) CreateRoom(name, password, owner string) CreateResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[name]; ok {
		return CreateDuplicate
	}
	r.rooms[name] = &room{
		password: password,
		owner:    owner,
		members:  make(map[*session.Session]struct{}),
	}
	r.order = append(r.order, name)
	return CreateOK
}

// JoinRoom atomically moves the session from its current room into the
// named one. On wrong password or missing room, membership is unchanged.
func (r *Registry) JoinRoom(s *session.Session, name, password string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.rooms[name]
	if !ok {
		return JoinNotFound
	}
	if target.protected() && target.password != password {
		return JoinWrongPassword
	}
	current, ok := r.sessions[s]
	if !ok {
		// Session was dropped concurrently; refuse rather than resurrect it.
		return JoinNotFound
	}
	delete(r.rooms[current].members, s)
	target.members[s] = struct{}{}
	r.sessions[s] = name
	return JoinOK
}

// Leave removes the session from its room and from the registry, and
// returns the room it vacated. ok is false if the session was unknown.
func (r *Registry) Leave(s *session.Session) (name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok = r.sessions[s]
	if !ok {
		return "", false
	}
	delete(r.rooms[name].members, s)
	delete(r.sessions, s)
	return name, true
}

// SetBackground records the room's background color iff the requester
// is the stored owner.
func (r *Registry) SetBackground(name, color, requester string) BackgroundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[name]
	if !ok {
		return BackgroundNotFound
	}
	if rm.owner == "" || rm.owner != requester {
		return BackgroundForbidden
	}
	rm.background = color
	return BackgroundOK
}

// Background returns the room's current background color.
func (r *Registry) Background(name string) (color string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[name]
	if !ok {
		return "", false
	}
	return rm.background, true
}

// Snapshot returns the room names in creation order, plus the subset
// that currently requires a password.
func (r *Registry) Snapshot() (rooms, protected []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms = make([]string, len(r.order))
	copy(rooms, r.order)
	protected = make([]string, 0)
	for _, name := range r.order {
		if r.rooms[name].protected() {
			protected = append(protected, name)
		}
	}
	return rooms, protected
}

// Counts returns the number of connected sessions and existing rooms.
func (r *Registry) Counts() (sessions, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.rooms)
}

// Members returns a point-in-time snapshot of the room's membership,
// excluding the given session if non-nil. Iterating the snapshot is
// safe against concurrent joins and leaves.
func (r *Registry) Members(name string, exclude *session.Session) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	members := make([]*session.Session, 0, len(rm.members))
	for s := range rm.members {
		if s == exclude {
			continue
		}
		members = append(members, s)
	}
	return members
}

// Sessions returns a snapshot of every connected session.
func (r *Registry) Sessions() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*session.Session, 0, len(r.sessions))
	for s := range r.sessions {
		all = append(all, s)
	}
	return all
}

// RoomOf returns the room the session is currently a member of.
func (r *Registry) RoomOf(s *session.Session) (name string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok = r.sessions[s]
	return name, ok
}
