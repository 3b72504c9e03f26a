// Package relay implements the server side of the signaling protocol: room
// membership tracking, per-connection sessions, and message fan-out.
package relay

import (
	"sort"
	"sync"
)

// Registry is the process-wide mapping of room ID to the set of member
// participant IDs. Rooms are created implicitly on first join and removed as
// soon as their member set becomes empty, so an existing entry always has at
// least one member.
//
// All methods are safe for concurrent use from multiple sessions.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]struct{})}
}

// Join adds participant to room, creating the room if absent. Joining twice
// is idempotent. It returns a sorted snapshot of the member set after the
// add, so the joiner appears in its own snapshot.
func (r *Registry) Join(room, participant string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[participant] = struct{}{}

	return snapshot(members)
}

// Leave removes participant from room and deletes the room once empty.
// A missing room or participant is a no-op.
func (r *Registry) Leave(room, participant string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, participant)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf returns a sorted snapshot of the room's member set, or an empty
// slice if the room does not exist.
func (r *Registry) MembersOf(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return []string{}
	}
	return snapshot(members)
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// snapshot copies a member set into a sorted slice. Callers must hold r.mu.
func snapshot(members map[string]struct{}) []string {
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
