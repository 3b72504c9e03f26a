// Package signaling implements the client side of the relay session: a
// WebSocket connection with serialized sends and a read loop that decodes
// relay events into handler callbacks.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/parlorvoice/parlor/internal/protocol"
	"github.com/parlorvoice/parlor/internal/util"
)

// Handler receives decoded relay events. The connection supervisor is the
// canonical implementation.
type Handler interface {
	HandleRoomUsers(users []string)
	HandleUserConnected(id string)
	HandleUserDisconnected(id string)
	HandleOffer(from string, offer webrtc.SessionDescription)
	HandleAnswer(from string, answer webrtc.SessionDescription)
	HandleCandidate(from string, candidate webrtc.ICECandidateInit)
	HandleTalking(participant string, talking bool)
}

// Client is one relay session. Writes are serialized by a mutex; Listen is
// the single reader.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the relay's /ws endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// send writes a message to the relay, guarded by the write mutex.
func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// ---------------------------------------------------------------------------
// Outbound (peer.Signaler)
// ---------------------------------------------------------------------------

func (c *Client) SendJoin(room, participant string) error {
	return c.send(protocol.Message{Event: protocol.EventJoinRoom, Room: room, From: participant})
}

func (c *Client) SendLeave(room, participant string) error {
	return c.send(protocol.Message{Event: protocol.EventLeaveRoom, Room: room, From: participant})
}

func (c *Client) SendOffer(room, to string, sdp webrtc.SessionDescription) error {
	return c.send(protocol.Message{Event: protocol.EventOffer, Room: room, To: to}.WithPayload(sdp))
}

func (c *Client) SendAnswer(room, to string, sdp webrtc.SessionDescription) error {
	return c.send(protocol.Message{Event: protocol.EventAnswer, Room: room, To: to}.WithPayload(sdp))
}

func (c *Client) SendCandidate(room, to string, candidate webrtc.ICECandidateInit) error {
	return c.send(protocol.Message{Event: protocol.EventICECandidate, Room: room, To: to}.WithPayload(candidate))
}

func (c *Client) SendTalking(room, participant string, talking bool) error {
	msg := protocol.Message{Event: protocol.EventUserTalking, Room: room}.
		WithPayload(protocol.TalkingPayload{UserID: participant, IsTalking: talking})
	return c.send(msg)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Listen reads relay messages and dispatches them to h until the connection
// drops, then returns the read error. Payloads that fail to decode are
// logged and skipped; negotiation errors belong to the affected link, never
// to the session.
func (c *Client) Listen(h Handler) error {
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("relay connection lost: %w", err)
		}
		c.dispatch(&msg, h)
	}
}

func (c *Client) dispatch(msg *protocol.Message, h Handler) {
	switch msg.Event {
	case protocol.EventRoomUsers:
		var roster protocol.RosterPayload
		if !decode(msg, &roster) {
			return
		}
		h.HandleRoomUsers(roster.Users)

	case protocol.EventUserConnected:
		h.HandleUserConnected(msg.From)

	case protocol.EventUserDisconnected:
		h.HandleUserDisconnected(msg.From)

	case protocol.EventOffer:
		var sdp webrtc.SessionDescription
		if !decode(msg, &sdp) {
			return
		}
		h.HandleOffer(msg.From, sdp)

	case protocol.EventAnswer:
		var sdp webrtc.SessionDescription
		if !decode(msg, &sdp) {
			return
		}
		h.HandleAnswer(msg.From, sdp)

	case protocol.EventICECandidate:
		var candidate webrtc.ICECandidateInit
		if !decode(msg, &candidate) {
			return
		}
		h.HandleCandidate(msg.From, candidate)

	case protocol.EventUserTalking:
		var talking protocol.TalkingPayload
		if !decode(msg, &talking) {
			return
		}
		h.HandleTalking(talking.UserID, talking.IsTalking)

	default:
		util.LogDebug("signaling: ignoring unknown event %q", msg.Event)
	}
}

// decode unmarshals a payload, logging and skipping the message on failure.
func decode(msg *protocol.Message, v any) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		util.LogWarning("signaling: bad %s payload from %s: %v", msg.Event, msg.From, err)
		return false
	}
	return true
}
