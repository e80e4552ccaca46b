package presence

import (
	"sync"

	"github.com/hilthontt/visper-relay/internal/domain"
)

type registration struct {
	socket Socket
	user   domain.User
	rooms  map[string]struct{}
}

// Registry tracks the sockets held by this instance, indexed by socket,
// user and room. Empty per-user and per-room sets are deleted.
type Registry struct {
	mu      sync.RWMutex
	sockets map[string]*registration
	users   map[string]map[string]struct{}
	rooms   map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sockets: make(map[string]*registration),
		users:   make(map[string]map[string]struct{}),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Add(s Socket, user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sockets[s.ID()] = &registration{socket: s, user: user, rooms: make(map[string]struct{})}
	addTo(r.users, user.ID, s.ID())
}

// Remove drops the socket and returns the rooms it had joined in which its
// user now has no other local socket.
func (r *Registry) Remove(socketID string) (domain.User, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.sockets[socketID]
	if !ok {
		return domain.User{}, nil, false
	}
	delete(r.sockets, socketID)
	removeFrom(r.users, reg.user.ID, socketID)

	var left []string
	for roomID := range reg.rooms {
		removeFrom(r.rooms, roomID, socketID)
		if !r.userInRoomLocked(reg.user.ID, roomID) {
			left = append(left, roomID)
		}
	}
	return reg.user, left, true
}

func (r *Registry) Join(socketID, roomID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.sockets[socketID]
	if !ok {
		return domain.User{}, ErrSocketNotFound
	}
	reg.rooms[roomID] = struct{}{}
	addTo(r.rooms, roomID, socketID)
	return reg.user, nil
}

func (r *Registry) Leave(socketID, roomID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.sockets[socketID]
	if !ok {
		return domain.User{}, ErrSocketNotFound
	}
	delete(reg.rooms, roomID)
	removeFrom(r.rooms, roomID, socketID)
	return reg.user, nil
}

func (r *Registry) Get(socketID string) (Socket, domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.sockets[socketID]
	if !ok {
		return nil, domain.User{}, false
	}
	return reg.socket, reg.user, true
}

func (r *Registry) InRoom(socketID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.sockets[socketID]
	if !ok {
		return false
	}
	_, joined := reg.rooms[roomID]
	return joined
}

// RoomSockets returns the local sockets joined to roomID, skipping those
// owned by exceptUserID when it is set.
func (r *Registry) RoomSockets(roomID, exceptUserID string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.rooms[roomID]
	out := make([]Socket, 0, len(ids))
	for id := range ids {
		reg := r.sockets[id]
		if exceptUserID != "" && reg.user.ID == exceptUserID {
			continue
		}
		out = append(out, reg.socket)
	}
	return out
}

func (r *Registry) UserSockets(userID string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.users[userID]
	out := make([]Socket, 0, len(ids))
	for id := range ids {
		out = append(out, r.sockets[id].socket)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) userInRoomLocked(userID, roomID string) bool {
	for id := range r.users[userID] {
		if _, ok := r.sockets[id].rooms[roomID]; ok {
			return true
		}
	}
	return false
}

func addTo(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
