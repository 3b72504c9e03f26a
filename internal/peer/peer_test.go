package peer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/parlorvoice/parlor/internal/media"
	"github.com/parlorvoice/parlor/internal/rtc"
)

// Compile-time interface checks.
var (
	_ rtc.Conn      = (*fakeConn)(nil)
	_ Signaler      = (*fakeSignaler)(nil)
	_ media.Capture = (*fakeCapture)(nil)
)

// fakeConn records every negotiation call. Descriptions are canned; no
// network is involved.
type fakeConn struct {
	mu          sync.Mutex
	localDescs  []webrtc.SessionDescription
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	closed      bool
	offerErr    error
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDescs = append(f.localDescs, sdp)
	return nil
}

func (f *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, sdp)
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (f *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (f *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// fakeSignaler records everything emitted toward the relay.
type fakeSignaler struct {
	mu       sync.Mutex
	joins    []string
	leaves   []string
	offers   []string // target IDs
	answers  []string // target IDs
	talkings []bool
}

func (f *fakeSignaler) SendJoin(room, participant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, room+"/"+participant)
	return nil
}

func (f *fakeSignaler) SendLeave(room, participant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, room+"/"+participant)
	return nil
}

func (f *fakeSignaler) SendOffer(room, to string, sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, to)
	return nil
}

func (f *fakeSignaler) SendAnswer(room, to string, sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, to)
	return nil
}

func (f *fakeSignaler) SendCandidate(room, to string, c webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSignaler) SendTalking(room, participant string, talking bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.talkings = append(f.talkings, talking)
	return nil
}

func (f *fakeSignaler) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func (f *fakeSignaler) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

// fakeCapture tracks acquisition state without touching any device.
type fakeCapture struct {
	mu         sync.Mutex
	acquired   bool
	releases   int
	enabled    bool
	acquireErr error
}

func (f *fakeCapture) Acquire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	f.enabled = false
	return nil
}

func (f *fakeCapture) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = false
	f.releases++
}

func (f *fakeCapture) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeCapture) Track() webrtc.TrackLocal { return nil }

// harness wires a supervisor over fakes and joins it to a room.
type harness struct {
	sup     *Supervisor
	sig     *fakeSignaler
	capture *fakeCapture
	conns   []*fakeConn
}

func newHarness(t *testing.T, self string) *harness {
	t.Helper()
	h := &harness{sig: &fakeSignaler{}, capture: &fakeCapture{}}

	dial := func() (rtc.Conn, error) {
		conn := &fakeConn{}
		h.conns = append(h.conns, conn)
		return conn, nil
	}
	sinks := func(string) media.Sink { return media.DiscardSink{} }

	h.sup = NewSupervisor(h.sig, dial, h.capture, sinks)
	if err := h.sup.Join(context.Background(), "lobby", self); err != nil {
		t.Fatalf("join: %v", err)
	}
	return h
}

func TestRosterCreatesOneLinkAndOneOffer(t *testing.T) {
	h := newHarness(t, "alice")

	h.sup.HandleRoomUsers([]string{"alice", "bob"})

	if got := h.sup.LinkCount(); got != 1 {
		t.Fatalf("link count = %d, want 1", got)
	}
	if got := h.sig.offerCount(); got != 1 {
		t.Fatalf("offers sent = %d, want 1", got)
	}
	if state, ok := h.sup.LinkState("bob"); !ok || state != StateAnswerAwaited {
		t.Fatalf("link state = %v (exists=%v), want answer-awaited", state, ok)
	}

	// A repeated roster must not double-negotiate.
	h.sup.HandleRoomUsers([]string{"alice", "bob"})
	if got := h.sig.offerCount(); got != 1 {
		t.Fatalf("offers after duplicate roster = %d, want 1", got)
	}
}

func TestUserConnectedProvisionsWithoutInitiating(t *testing.T) {
	h := newHarness(t, "alice")

	h.sup.HandleUserConnected("carol")

	if got := h.sup.LinkCount(); got != 1 {
		t.Fatalf("link count = %d, want 1", got)
	}
	if got := h.sig.offerCount(); got != 0 {
		t.Fatalf("offers sent = %d, want 0 (newcomer offers)", got)
	}
	if state, _ := h.sup.LinkState("carol"); state != StateIdle {
		t.Fatalf("link state = %v, want idle", state)
	}
}

func TestRemoteOfferProducesAnswer(t *testing.T) {
	h := newHarness(t, "alice")

	h.sup.HandleOffer("dave", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	if got := h.sig.answerCount(); got != 1 {
		t.Fatalf("answers sent = %d, want 1", got)
	}
	if state, _ := h.sup.LinkState("dave"); state != StateAnswerSent {
		t.Fatalf("link state = %v, want answer-sent", state)
	}
}

func TestAnswerCompletesNegotiation(t *testing.T) {
	h := newHarness(t, "alice")
	h.sup.HandleRoomUsers([]string{"bob"})

	h.sup.HandleAnswer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})

	if state, _ := h.sup.LinkState("bob"); state != StateConnected {
		t.Fatalf("link state = %v, want connected", state)
	}
	if len(h.conns) != 1 || len(h.conns[0].remoteDescs) != 1 {
		t.Fatalf("remote description not applied")
	}
}

func TestAnswerWithoutLinkIsNoOp(t *testing.T) {
	h := newHarness(t, "alice")

	h.sup.HandleAnswer("stranger", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})

	if got := h.sup.LinkCount(); got != 0 {
		t.Fatalf("link count = %d, want 0", got)
	}
}

func TestGlareSmallerIDKeepsOffererRole(t *testing.T) {
	// alice < bob: alice holds her pending offer and ignores bob's.
	h := newHarness(t, "alice")
	h.sup.HandleRoomUsers([]string{"bob"})

	h.sup.HandleOffer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	if got := h.sig.answerCount(); got != 0 {
		t.Fatalf("answers sent = %d, want 0 (we keep the offerer role)", got)
	}
	if state, _ := h.sup.LinkState("bob"); state != StateAnswerAwaited {
		t.Fatalf("link state = %v, want answer-awaited", state)
	}
}

func TestGlareLargerIDYieldsAndAnswers(t *testing.T) {
	// zed > bob: zed discards its pending offer and answers bob's.
	h := newHarness(t, "zed")
	h.sup.HandleRoomUsers([]string{"bob"})

	h.sup.HandleOffer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	if got := h.sig.answerCount(); got != 1 {
		t.Fatalf("answers sent = %d, want 1", got)
	}
	if state, _ := h.sup.LinkState("bob"); state != StateAnswerSent {
		t.Fatalf("link state = %v, want answer-sent", state)
	}
	if !h.conns[0].closed {
		t.Fatalf("abandoned connection was not closed")
	}
}

func TestEarlyCandidatesAreBufferedAndFlushed(t *testing.T) {
	h := newHarness(t, "alice")

	// Candidate arrives before any link exists; it must not be lost.
	h.sup.HandleCandidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:early"})
	h.sup.HandleUserConnected("bob")

	if got := h.conns[0].candidateCount(); got != 0 {
		t.Fatalf("candidate applied before remote description: %d", got)
	}

	h.sup.HandleOffer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	if got := h.conns[0].candidateCount(); got != 1 {
		t.Fatalf("buffered candidates applied = %d, want 1", got)
	}
}

func TestLinkCreationRaceKeepsQueuedCandidates(t *testing.T) {
	sig := &fakeSignaler{}
	var sup *Supervisor
	var conns []*fakeConn
	dial := func() (rtc.Conn, error) {
		conn := &fakeConn{}
		conns = append(conns, conn)
		if len(conns) == 1 {
			// A second event for the same peer completes link creation
			// while the first dial is still in flight.
			sup.HandleUserConnected("bob")
		}
		return conn, nil
	}
	sup = NewSupervisor(sig, dial, &fakeCapture{},
		func(string) media.Sink { return media.DiscardSink{} })
	if err := sup.Join(context.Background(), "lobby", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	sup.HandleCandidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:early"})
	sup.HandleUserConnected("bob")

	if len(conns) != 2 {
		t.Fatalf("dials = %d, want 2", len(conns))
	}
	if !conns[0].closed {
		t.Fatalf("losing connection not closed")
	}
	if got := sup.LinkCount(); got != 1 {
		t.Fatalf("link count = %d, want 1", got)
	}

	// The candidate queued before either creation attempt must survive on
	// the winning link and flush once the remote description lands.
	sup.HandleOffer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if got := conns[1].candidateCount(); got != 1 {
		t.Fatalf("queued candidates on winning link = %d, want 1", got)
	}
}

func TestUserDisconnectedClosesAndRemovesLink(t *testing.T) {
	h := newHarness(t, "alice")
	h.sup.HandleRoomUsers([]string{"bob"})

	h.sup.HandleUserDisconnected("bob")

	if got := h.sup.LinkCount(); got != 0 {
		t.Fatalf("link count = %d, want 0", got)
	}
	if !h.conns[0].closed {
		t.Fatalf("peer connection not closed")
	}
}

func TestSetTalkingWithoutRoomIsLocalNoOp(t *testing.T) {
	sig := &fakeSignaler{}
	capture := &fakeCapture{}
	sup := NewSupervisor(sig, func() (rtc.Conn, error) { return &fakeConn{}, nil },
		capture, func(string) media.Sink { return media.DiscardSink{} })

	sup.SetTalking(true)
	sup.SetTalking(false)

	if len(sig.talkings) != 0 {
		t.Fatalf("talking messages sent with no room: %v", sig.talkings)
	}
	if capture.enabled {
		t.Fatalf("mute gate opened with no room")
	}
}

func TestSetTalkingOpensGateAndNotifiesRoom(t *testing.T) {
	h := newHarness(t, "alice")

	h.sup.SetTalking(true)

	if !h.capture.enabled {
		t.Fatalf("mute gate not opened")
	}
	if len(h.sig.talkings) != 1 || !h.sig.talkings[0] {
		t.Fatalf("talking notifications = %v, want [true]", h.sig.talkings)
	}
}

func TestTalkingCallbackSwapIsConcurrencySafe(t *testing.T) {
	h := newHarness(t, "alice")

	var mu sync.Mutex
	var seen int
	h.sup.OnTalking(func(string, bool) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	h.sup.HandleTalking("bob", true)
	if seen != 1 {
		t.Fatalf("callback invocations = %d, want 1", seen)
	}

	// Registration and delivery may interleave; neither side may observe a
	// torn callback pointer.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.sup.HandleTalking("bob", i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.sup.OnTalking(func(string, bool) {})
		}
	}()
	wg.Wait()
}

func TestJoinAbortsWhenCaptureFails(t *testing.T) {
	sig := &fakeSignaler{}
	capture := &fakeCapture{acquireErr: errors.New("device denied")}
	sup := NewSupervisor(sig, func() (rtc.Conn, error) { return &fakeConn{}, nil },
		capture, func(string) media.Sink { return media.DiscardSink{} })

	err := sup.Join(context.Background(), "lobby", "alice")
	if err == nil {
		t.Fatalf("join succeeded despite capture failure")
	}
	if len(sig.joins) != 0 {
		t.Fatalf("join message sent despite capture failure: %v", sig.joins)
	}
}

func TestLeaveClosesLinksAndReleasesCapture(t *testing.T) {
	h := newHarness(t, "alice")
	h.sup.HandleRoomUsers([]string{"bob", "carol"})

	h.sup.Leave()

	if got := h.sup.LinkCount(); got != 0 {
		t.Fatalf("link count after leave = %d, want 0", got)
	}
	for i, conn := range h.conns {
		if !conn.closed {
			t.Fatalf("conn %d not closed on leave", i)
		}
	}
	if h.capture.acquired || h.capture.releases != 1 {
		t.Fatalf("capture not released exactly once (acquired=%v releases=%d)",
			h.capture.acquired, h.capture.releases)
	}
	if len(h.sig.leaves) != 1 {
		t.Fatalf("leave messages = %v, want exactly one", h.sig.leaves)
	}

	// Leaving again is a no-op.
	h.sup.Leave()
	if h.capture.releases != 1 || len(h.sig.leaves) != 1 {
		t.Fatalf("second leave was not a no-op")
	}
}

func TestJoinGeneratesParticipantIDWhenEmpty(t *testing.T) {
	sig := &fakeSignaler{}
	sup := NewSupervisor(sig, func() (rtc.Conn, error) { return &fakeConn{}, nil },
		&fakeCapture{}, func(string) media.Sink { return media.DiscardSink{} })

	if err := sup.Join(context.Background(), "lobby", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if sup.Self() == "" {
		t.Fatalf("no participant ID generated")
	}
}

func TestOfferFailureLeavesLinkIdle(t *testing.T) {
	sig := &fakeSignaler{}
	conn := &fakeConn{offerErr: errors.New("no codecs")}
	sup := NewSupervisor(sig, func() (rtc.Conn, error) { return conn, nil },
		&fakeCapture{}, func(string) media.Sink { return media.DiscardSink{} })

	if err := sup.Join(context.Background(), "lobby", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	sup.HandleRoomUsers([]string{"bob"})

	if state, ok := sup.LinkState("bob"); !ok || state != StateIdle {
		t.Fatalf("link state = %v, want idle after offer failure", state)
	}
	if got := sig.offerCount(); got != 0 {
		t.Fatalf("offers sent = %d, want 0", got)
	}
}
