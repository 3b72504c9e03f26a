package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/parlorvoice/parlor/internal/media"
	"github.com/parlorvoice/parlor/internal/rtc"
	"github.com/parlorvoice/parlor/internal/util"
)

// Signaler is the outbound half of the relay session the supervisor emits
// through.
type Signaler interface {
	SendJoin(room, participant string) error
	SendLeave(room, participant string) error
	SendOffer(room, to string, sdp webrtc.SessionDescription) error
	SendAnswer(room, to string, sdp webrtc.SessionDescription) error
	SendCandidate(room, to string, candidate webrtc.ICECandidateInit) error
	SendTalking(room, participant string, talking bool) error
}

// Supervisor owns the set of peer links for the local participant. It turns
// relay-delivered room events into link lifecycle changes and carries the
// local intents: join, leave, push-to-talk.
//
// Offer direction is deterministic: the side that receives the roster
// snapshot (the joiner) offers to every existing member; a member seeing
// user-connected only provisions a link and waits for the offer. If offers
// still collide, the lexicographically smaller participant ID keeps the
// offerer role.
type Supervisor struct {
	sig     Signaler
	dial    rtc.Factory
	capture media.Capture
	sinks   media.SinkFactory

	mu        sync.Mutex
	ctx       context.Context
	self      string
	room      string
	talkingFn func(participant string, talking bool)
	links     map[string]*Link
	pending   map[string][]webrtc.ICECandidateInit
}

// NewSupervisor wires a supervisor from its collaborators.
func NewSupervisor(sig Signaler, dial rtc.Factory, capture media.Capture, sinks media.SinkFactory) *Supervisor {
	return &Supervisor{
		sig:     sig,
		dial:    dial,
		capture: capture,
		sinks:   sinks,
		ctx:     context.Background(),
		links:   make(map[string]*Link),
		pending: make(map[string][]webrtc.ICECandidateInit),
	}
}

// OnTalking registers a callback for relayed talking-state notifications.
// Rendering is the caller's concern. Safe to call while events are being
// delivered.
func (s *Supervisor) OnTalking(fn func(participant string, talking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.talkingFn = fn
}

// Self returns the local participant ID, assigned at join.
func (s *Supervisor) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// ---------------------------------------------------------------------------
// Local intents
// ---------------------------------------------------------------------------

// Join acquires the capture device (muted) and then emits the join request.
// A capture failure aborts the join: no relay message is sent and the error
// surfaces to the caller. An empty name gets a generated participant ID.
func (s *Supervisor) Join(ctx context.Context, room, name string) error {
	s.mu.Lock()
	if s.room != "" {
		current := s.room
		s.mu.Unlock()
		return fmt.Errorf("already joined to room %q", current)
	}
	s.mu.Unlock()

	if name == "" {
		name = uuid.NewString()
	}

	if err := s.capture.Acquire(ctx); err != nil {
		return fmt.Errorf("join aborted: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.self = name
	s.room = room
	s.mu.Unlock()

	if err := s.sig.SendJoin(room, name); err != nil {
		s.capture.Release()
		s.mu.Lock()
		s.room = ""
		s.mu.Unlock()
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

// Leave emits the leave request, closes every link, and releases the capture
// device. Safe to call when not joined.
func (s *Supervisor) Leave() {
	s.mu.Lock()
	room, self := s.room, s.self
	s.room = ""
	links := s.links
	s.links = make(map[string]*Link)
	s.pending = make(map[string][]webrtc.ICECandidateInit)
	s.mu.Unlock()

	if room == "" {
		return
	}

	if err := s.sig.SendLeave(room, self); err != nil {
		util.LogWarning("supervisor: send leave: %v", err)
	}
	for _, link := range links {
		link.Close()
	}
	s.capture.Release()
}

// SetTalking toggles the outgoing mute gate and notifies the room. With no
// active room it is a pure no-op: nothing is sent and the gate stays closed.
func (s *Supervisor) SetTalking(talking bool) {
	s.mu.Lock()
	room, self := s.room, s.self
	s.mu.Unlock()

	if room == "" {
		return
	}

	s.capture.SetEnabled(talking)
	if err := s.sig.SendTalking(room, self, talking); err != nil {
		util.LogWarning("supervisor: send talking state: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Relay events
// ---------------------------------------------------------------------------

// HandleRoomUsers reacts to the roster snapshot delivered after our own
// join: one link and one offer per existing member.
func (s *Supervisor) HandleRoomUsers(users []string) {
	for _, id := range users {
		if id == s.Self() {
			continue
		}
		s.ensureLink(id, true)
	}
}

// HandleUserConnected provisions a link for a newly joined participant. The
// newcomer holds the roster and therefore the offerer role; this side waits.
func (s *Supervisor) HandleUserConnected(id string) {
	if id == s.Self() {
		return
	}
	s.ensureLink(id, false)
}

// HandleUserDisconnected closes and removes the participant's link.
func (s *Supervisor) HandleUserDisconnected(id string) {
	s.mu.Lock()
	link, ok := s.links[id]
	delete(s.links, id)
	delete(s.pending, id)
	s.mu.Unlock()

	if ok {
		link.Close()
	}
}

// HandleOffer routes a remote offer to the peer's link, resolving glare by
// participant ID: the smaller ID keeps its pending offer, the larger one
// discards its attempt and answers instead.
func (s *Supervisor) HandleOffer(from string, offer webrtc.SessionDescription) {
	link := s.ensureLink(from, false)
	if link == nil {
		return
	}

	if link.offerPending() {
		if s.Self() < from {
			util.LogDebug("supervisor: glare with %s, holding our offer", from)
			return
		}
		util.LogDebug("supervisor: glare with %s, yielding offerer role", from)
		link.Close()
		s.mu.Lock()
		delete(s.links, from)
		s.mu.Unlock()
		link = s.ensureLink(from, false)
		if link == nil {
			return
		}
	}

	link.HandleOffer(offer)
}

// HandleAnswer applies a remote answer; without a link it is a logged no-op.
func (s *Supervisor) HandleAnswer(from string, answer webrtc.SessionDescription) {
	s.mu.Lock()
	link, ok := s.links[from]
	s.mu.Unlock()

	if !ok {
		util.LogWarning("supervisor: answer from %s with no link", from)
		return
	}
	link.HandleAnswer(answer)
}

// HandleCandidate routes a remote ICE candidate, queueing it when the peer's
// link does not exist yet. The queue flushes into the link on creation.
func (s *Supervisor) HandleCandidate(from string, candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	link, ok := s.links[from]
	if !ok {
		if len(s.pending[from]) >= maxPendingCandidates {
			util.LogWarning("supervisor: candidate queue full for %s, dropping oldest", from)
			s.pending[from] = s.pending[from][1:]
		}
		s.pending[from] = append(s.pending[from], candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	link.AddCandidate(candidate)
}

// HandleTalking forwards a talking-state notification to the registered
// callback. The callback runs outside the supervisor lock.
func (s *Supervisor) HandleTalking(participant string, talking bool) {
	s.mu.Lock()
	fn := s.talkingFn
	s.mu.Unlock()

	if fn != nil {
		fn(participant, talking)
	}
}

// LinkCount returns the number of live links.
func (s *Supervisor) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// LinkState reports the negotiation state for a peer, if a link exists.
func (s *Supervisor) LinkState(id string) (LinkState, bool) {
	s.mu.Lock()
	link, ok := s.links[id]
	s.mu.Unlock()
	if !ok {
		return StateClosed, false
	}
	return link.State(), true
}

// ---------------------------------------------------------------------------
// Link construction
// ---------------------------------------------------------------------------

// ensureLink returns the link for id, creating it if absent: dial a peer
// connection, attach the outgoing track, wire trickle ICE and inbound track
// playback, and flush any candidates queued for the peer. When initiate is
// set a fresh link immediately sends its offer.
func (s *Supervisor) ensureLink(id string, initiate bool) *Link {
	s.mu.Lock()
	if link, ok := s.links[id]; ok {
		s.mu.Unlock()
		return link
	}
	room := s.room
	ctx := s.ctx
	queued := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if room == "" {
		util.LogDebug("supervisor: not joined, ignoring peer %s", id)
		return nil
	}

	conn, err := s.dial()
	if err != nil {
		util.LogError("supervisor: dial peer connection for %s: %v", id, err)
		return nil
	}

	if _, err := conn.AddTrack(s.capture.Track()); err != nil {
		util.LogError("supervisor: attach outgoing track for %s: %v", id, err)
		conn.Close()
		return nil
	}

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.sig.SendCandidate(room, id, c.ToJSON()); err != nil {
			util.LogWarning("supervisor: send candidate to %s: %v", id, err)
		}
	})

	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go media.PlayTrack(ctx, track, s.sinks(id))
	})

	link := newLink(room, id, conn, s.sig)

	s.mu.Lock()
	if existing, ok := s.links[id]; ok {
		// Lost the race with a concurrent event for the same peer. The
		// candidates popped above still belong to the peer; hand them to
		// the winning link instead of losing them with this conn.
		s.mu.Unlock()
		conn.Close()
		for _, candidate := range queued {
			existing.AddCandidate(candidate)
		}
		return existing
	}
	s.links[id] = link
	s.mu.Unlock()

	for _, candidate := range queued {
		link.AddCandidate(candidate)
	}
	if initiate {
		link.SendOffer()
	}
	return link
}
