// Package peer implements the client-side negotiation core: one Link per
// remote participant, driven by a Supervisor that reacts to relay events.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/parlorvoice/parlor/internal/rtc"
	"github.com/parlorvoice/parlor/internal/util"
)

// LinkState tracks where a link is in its negotiation lifecycle.
type LinkState int

const (
	// StateIdle — link exists, no negotiation exchanged yet.
	StateIdle LinkState = iota
	// StateOfferCreated — local offer applied, not yet on the wire.
	StateOfferCreated
	// StateAnswerAwaited — local offer sent, waiting for the answer.
	StateAnswerAwaited
	// StateOfferReceived — remote offer applied, building the answer.
	StateOfferReceived
	// StateAnswerSent — answered a remote offer; negotiation complete on
	// this side.
	StateAnswerSent
	// StateConnected — remote answer applied; negotiation complete.
	StateConnected
	// StateClosed — terminal; the link never negotiates again.
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferCreated:
		return "offer-created"
	case StateAnswerAwaited:
		return "answer-awaited"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// maxPendingCandidates bounds the per-link queue of remote candidates that
// arrive before the remote description. Beyond the cap the oldest entry is
// dropped with a warning.
const maxPendingCandidates = 32

// Link pairs one remote participant with one peer connection and drives its
// negotiation. All transitions are serialized by the link's mutex: a
// description is fully applied before a competing transition is accepted.
type Link struct {
	id   string // remote participant
	room string
	conn rtc.Conn
	sig  Signaler

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func newLink(room, id string, conn rtc.Conn, sig Signaler) *Link {
	return &Link{id: id, room: room, conn: conn, sig: sig, state: StateIdle}
}

// State returns the link's current negotiation state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// offerPending reports whether this side has an unanswered local offer,
// which is the condition for glare when a remote offer arrives.
func (l *Link) offerPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateOfferCreated || l.state == StateAnswerAwaited
}

// SendOffer creates a local offer, applies it, and emits it to the remote
// peer. On failure the link stays Idle and is not retried; the peer's next
// offer can still revive it.
func (l *Link) SendOffer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		util.LogDebug("link %s: skipping offer in state %s", l.id, l.state)
		return
	}

	offer, err := l.conn.CreateOffer()
	if err != nil {
		util.LogError("link %s: create offer: %v", l.id, err)
		return
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		util.LogError("link %s: set local offer: %v", l.id, err)
		return
	}
	l.state = StateOfferCreated

	if err := l.sig.SendOffer(l.room, l.id, offer); err != nil {
		util.LogError("link %s: send offer: %v", l.id, err)
		return
	}
	l.state = StateAnswerAwaited
}

// HandleOffer applies a remote offer and emits the answer. Accepted from
// Idle and from the settled states (renegotiation). A failure leaves the
// link non-functional until the peer reconnects; it is never fatal to the
// session.
func (l *Link) HandleOffer(offer webrtc.SessionDescription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle, StateAnswerSent, StateConnected:
	default:
		util.LogWarning("link %s: ignoring offer in state %s", l.id, l.state)
		return
	}

	l.state = StateOfferReceived
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		util.LogError("link %s: set remote offer: %v", l.id, err)
		return
	}
	l.flushPendingLocked()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		util.LogError("link %s: create answer: %v", l.id, err)
		return
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		util.LogError("link %s: set local answer: %v", l.id, err)
		return
	}
	if err := l.sig.SendAnswer(l.room, l.id, answer); err != nil {
		util.LogError("link %s: send answer: %v", l.id, err)
		return
	}
	l.state = StateAnswerSent
}

// HandleAnswer applies the remote answer to the pending local offer. Without
// a pending offer it is a logged no-op.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOfferCreated && l.state != StateAnswerAwaited {
		util.LogWarning("link %s: answer with no pending offer (state %s)", l.id, l.state)
		return
	}

	if err := l.conn.SetRemoteDescription(answer); err != nil {
		util.LogError("link %s: set remote answer: %v", l.id, err)
		return
	}
	l.flushPendingLocked()
	l.state = StateConnected
}

// AddCandidate applies a remote ICE candidate, queueing it while the remote
// description has not landed yet.
func (l *Link) AddCandidate(candidate webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return
	}
	if !l.remoteSet {
		if len(l.pending) >= maxPendingCandidates {
			util.LogWarning("link %s: candidate queue full, dropping oldest", l.id)
			l.pending = l.pending[1:]
		}
		l.pending = append(l.pending, candidate)
		return
	}
	if err := l.conn.AddICECandidate(candidate); err != nil {
		util.LogWarning("link %s: add candidate: %v", l.id, err)
	}
}

// flushPendingLocked marks the remote description applied and drains the
// candidate queue. Callers must hold l.mu.
func (l *Link) flushPendingLocked() {
	l.remoteSet = true
	for _, candidate := range l.pending {
		if err := l.conn.AddICECandidate(candidate); err != nil {
			util.LogWarning("link %s: add buffered candidate: %v", l.id, err)
		}
	}
	l.pending = nil
}

// Close tears down the peer connection. Terminal and idempotent; the track
// pump and its sink shut down when the connection closes.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return
	}
	l.state = StateClosed
	l.pending = nil
	if err := l.conn.Close(); err != nil {
		util.LogDebug("link %s: close: %v", l.id, err)
	}
}
