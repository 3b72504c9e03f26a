// Package protocol defines the signaling events exchanged between clients and
// the relay over the WebSocket connection.
package protocol

import "encoding/json"

// Event identifies the kind of signaling message.
type Event string

// Client → relay events.
const (
	EventJoinRoom     Event = "join-room"
	EventLeaveRoom    Event = "leave-room"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice-candidate"
	EventUserTalking  Event = "user-talking"
)

// Relay → client events.
const (
	EventUserConnected    Event = "user-connected"
	EventUserDisconnected Event = "user-disconnected"
	EventRoomUsers        Event = "room-users"
)

// Message is the JSON envelope carried over the WebSocket. The relay treats
// Payload as opaque: offers, answers and candidates are forwarded without
// inspection. From is always stamped by the relay before forwarding, so
// clients cannot spoof a sender identity.
type Message struct {
	Event   Event           `json:"event"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RosterPayload carries the member snapshot delivered to a joining
// participant via EventRoomUsers. The list includes the joiner itself.
type RosterPayload struct {
	Users []string `json:"users"`
}

// TalkingPayload carries the push-to-talk state broadcast via
// EventUserTalking.
type TalkingPayload struct {
	UserID    string `json:"userId"`
	IsTalking bool   `json:"isTalking"`
}

// knownEvents is the set of events the relay accepts from clients.
// Relay-originated events arriving from a client are treated as unknown.
var knownEvents = map[Event]struct{}{
	EventJoinRoom:     {},
	EventLeaveRoom:    {},
	EventOffer:        {},
	EventAnswer:       {},
	EventICECandidate: {},
	EventUserTalking:  {},
}

// KnownClientEvent reports whether ev may legally be sent by a client.
func KnownClientEvent(ev Event) bool {
	_, ok := knownEvents[ev]
	return ok
}

// Unicast reports whether the event is addressed to a single participant
// (offer/answer/candidate negotiation traffic) rather than the whole room.
func (m *Message) Unicast() bool {
	return m.To != ""
}

// WithPayload returns a copy of m with v marshalled into the payload slot.
// Marshal errors are impossible for the payload types used here, so the
// error is swallowed the way the rest of the wire layer treats best-effort
// sends.
func (m Message) WithPayload(v any) Message {
	data, _ := json.Marshal(v)
	m.Payload = data
	return m
}
