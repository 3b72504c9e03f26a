package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlorvoice/parlor/internal/protocol"
	"github.com/parlorvoice/parlor/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from a client. SDP offers fit well
	// within this.
	maxMessageSize = 64 * 1024

	// Outbound queue capacity per session.
	sendBufferSize = 64
)

// Session binds one WebSocket connection to at most one room membership.
// It owns the lifecycle of that binding: join and leave mutate the Registry
// and Directory, and transport close triggers the same cleanup as an
// explicit leave.
//
// The read loop is the only goroutine that mutates the binding; the write
// pump is the only goroutine that writes the connection.
type Session struct {
	registry  *Registry
	directory *Directory
	conn      *websocket.Conn
	send      chan *protocol.Message

	mu          sync.Mutex
	room        string
	participant string
	closed      bool
}

// NewSession creates a session for conn. Call Run to start the pumps; conn
// may be nil for in-process use, in which case the caller drains Outbound
// itself.
func NewSession(registry *Registry, directory *Directory, conn *websocket.Conn) *Session {
	return &Session{
		registry:  registry,
		directory: directory,
		conn:      conn,
		send:      make(chan *protocol.Message, sendBufferSize),
	}
}

// Participant returns the application-level participant ID recorded at join
// time, or "" before the first join.
func (s *Session) Participant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// Room returns the session's current room binding, or "" when not joined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Outbound exposes the session's delivery queue for in-process tests.
func (s *Session) Outbound() <-chan *protocol.Message {
	return s.send
}

// Run starts the write pump and then blocks in the read loop until the
// connection drops. Cleanup runs exactly once on the way out.
func (s *Session) Run() {
	util.Stats.AddSession()
	go s.writePump()
	s.readLoop()
}

// ---------------------------------------------------------------------------
// Message handling
// ---------------------------------------------------------------------------

// Handle dispatches one decoded client message. Malformed messages are
// dropped silently per the relay's best-effort contract.
func (s *Session) Handle(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventJoinRoom:
		s.handleJoin(msg)
	case protocol.EventLeaveRoom:
		s.handleLeave()
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate, protocol.EventUserTalking:
		s.relay(msg)
	default:
		util.LogDebug("session: dropping unknown event %q", msg.Event)
	}
}

// handleJoin records the room/participant binding, registers the member, and
// performs the two-part join fan-out: a user-connected broadcast to everyone
// already in the room, and a roster snapshot (taken after the join, so the
// joiner sees itself) back to the joiner only.
func (s *Session) handleJoin(msg *protocol.Message) {
	if msg.Room == "" || msg.From == "" {
		util.LogDebug("session: dropping join with missing room or participant")
		return
	}

	// A session holds at most one room binding; joining again moves it.
	s.handleLeave()

	s.mu.Lock()
	s.room = msg.Room
	s.participant = msg.From
	s.mu.Unlock()

	roster := s.registry.Join(msg.Room, msg.From)
	s.directory.Bind(msg.Room, s)

	notice := &protocol.Message{
		Event: protocol.EventUserConnected,
		Room:  msg.Room,
		From:  msg.From,
	}
	s.directory.SendToRoom(msg.Room, s, notice)

	snapshot := protocol.Message{
		Event: protocol.EventRoomUsers,
		Room:  msg.Room,
	}.WithPayload(protocol.RosterPayload{Users: roster})
	s.enqueue(&snapshot)

	util.LogInfo("session: %s joined room %q (%d members)", msg.From, msg.Room, len(roster))
}

// handleLeave clears the room binding and notifies the remaining members.
// It is idempotent: once the binding is cleared the session never again
// emits into that room, whether the trigger was an explicit leave or the
// transport closing.
func (s *Session) handleLeave() {
	s.mu.Lock()
	room, participant := s.room, s.participant
	s.room = ""
	s.mu.Unlock()

	if room == "" {
		return
	}

	s.registry.Leave(room, participant)
	s.directory.Unbind(room, s)

	notice := &protocol.Message{
		Event: protocol.EventUserDisconnected,
		Room:  room,
		From:  participant,
	}
	s.directory.SendToRoom(room, nil, notice)

	util.LogInfo("session: %s left room %q", participant, room)
}

// relay forwards a negotiation or talking-state message without inspecting
// its payload. The stored binding — not the client-supplied fields — decides
// the room and the stamped sender identity.
func (s *Session) relay(msg *protocol.Message) {
	s.mu.Lock()
	room, participant := s.room, s.participant
	s.mu.Unlock()

	if room == "" {
		util.LogDebug("session: dropping %s from unjoined session", msg.Event)
		return
	}

	fwd := &protocol.Message{
		Event:   msg.Event,
		Room:    room,
		From:    participant,
		To:      msg.To,
		Payload: msg.Payload,
	}

	if fwd.Unicast() {
		if !s.directory.SendToParticipant(room, fwd.To, fwd) {
			util.LogDebug("session: no session for %s in room %q, dropping %s", fwd.To, room, fwd.Event)
			return
		}
	} else {
		s.directory.SendToRoom(room, s, fwd)
	}
	util.Stats.AddRelayed()
}

// enqueue places msg on the outbound queue, dropping it when the queue is
// full or the session has shut down. Delivery is at-most-once end to end, so
// a drop here is equivalent to a transport loss.
//
// Fan-out goroutines may call this concurrently with teardown: the mutex
// orders every enqueue against the closed flag, which shutdown sets before
// closing the channel, so the send below never races the close.
func (s *Session) enqueue(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		util.Stats.AddDropped()
		return
	}
	select {
	case s.send <- msg:
	default:
		util.Stats.AddDropped()
		util.LogWarning("session: outbound queue full for %s, dropping %s", s.participant, msg.Event)
	}
}

// ---------------------------------------------------------------------------
// Connection pumps
// ---------------------------------------------------------------------------

// shutdown runs the transport-close cleanup: leave the room, mark the
// session closed so late fan-out enqueues become drops, then close the
// outbound queue to stop the write pump. The closed flag must be set under
// the mutex before the close so no concurrent enqueue can hit a closed
// channel.
func (s *Session) shutdown() {
	s.handleLeave()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	close(s.send)
}

// readLoop pumps messages from the WebSocket into Handle. It is the only
// reader of the connection. On exit it runs leave cleanup and closes the
// outbound queue, which stops the write pump.
func (s *Session) readLoop() {
	defer func() {
		s.shutdown()
		s.conn.Close()
		util.Stats.RemoveSession()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("session: read error: %v", err)
			}
			return
		}
		if !protocol.KnownClientEvent(msg.Event) {
			util.LogDebug("session: dropping non-client event %q", msg.Event)
			continue
		}
		s.Handle(&msg)
	}
}

// writePump pumps messages from the outbound queue to the WebSocket and
// keeps the connection alive with periodic pings. It is the only writer of
// the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				util.LogDebug("session: write error: %v", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
