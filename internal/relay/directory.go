package relay

import (
	"sync"

	"github.com/parlorvoice/parlor/internal/protocol"
)

// Directory tracks which live sessions are bound to which room and performs
// the actual fan-out. It is the delivery-side counterpart of the Registry:
// the Registry answers "who is in the room", the Directory answers "which
// connections do I write to".
type Directory struct {
	mu    sync.Mutex
	rooms map[string]map[*Session]struct{}
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[*Session]struct{})}
}

// Bind records that s is joined to room.
func (d *Directory) Bind(room string, s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions, ok := d.rooms[room]
	if !ok {
		sessions = make(map[*Session]struct{})
		d.rooms[room] = sessions
	}
	sessions[s] = struct{}{}
}

// Unbind removes s from room, dropping the room entry once empty.
func (d *Directory) Unbind(room string, s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions, ok := d.rooms[room]
	if !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(d.rooms, room)
	}
}

// SendToRoom delivers msg to every session bound to room except exclude.
// Delivery is best-effort: a slow consumer's full queue drops the message
// rather than blocking the sender. Returns the number of sessions the
// message was enqueued to.
func (d *Directory) SendToRoom(room string, exclude *Session, msg *protocol.Message) int {
	n := 0
	for _, s := range d.sessionsIn(room) {
		if s == exclude {
			continue
		}
		s.enqueue(msg)
		n++
	}
	return n
}

// SendToParticipant delivers msg to the session(s) bound to the given
// participant ID within room — zero or one in the well-formed case. Returns
// true if at least one session matched.
func (d *Directory) SendToParticipant(room, participant string, msg *protocol.Message) bool {
	delivered := false
	for _, s := range d.sessionsIn(room) {
		if s.Participant() == participant {
			s.enqueue(msg)
			delivered = true
		}
	}
	return delivered
}

// sessionsIn snapshots the sessions bound to room so enqueueing happens
// outside the directory lock.
func (d *Directory) sessionsIn(room string) []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions := d.rooms[room]
	out := make([]*Session, 0, len(sessions))
	for s := range sessions {
		out = append(out, s)
	}
	return out
}
