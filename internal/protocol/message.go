// Package protocol defines the frames exchanged over the signaling channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Interview/internal/domain"
)

type EventType string

const (
	EventJoinRoom   EventType = "join_room"
	EventPeerList   EventType = "peer_list"
	EventPeerJoined EventType = "peer_joined"
	EventPeerLeft   EventType = "peer_left"
	EventData       EventType = "data"
	EventCodeUpdate EventType = "code_update"
	EventPing       EventType = "ping"
	EventPong       EventType = "pong"
	EventError      EventType = "error"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Message is the outer frame: {"type": ..., "payload": {...}}.
type Message struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRoom struct {
	RoomID domain.RoomID `json:"room_id"`
}

// PeerSnapshot is sent once to a joiner. Empty is set instead of Peers
// when nobody else is in the room.
type PeerSnapshot struct {
	OwnID domain.ParticipantID            `json:"own_id"`
	Peers map[domain.ParticipantID]string `json:"peers,omitempty"`
	Empty bool                            `json:"empty,omitempty"`
}

type PeerJoined struct {
	ID          domain.ParticipantID `json:"id"`
	DisplayName string               `json:"display_name"`
}

type PeerLeft struct {
	ID domain.ParticipantID `json:"id"`
}

type CodeUpdate struct {
	Code string `json:"code"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewSnapshot builds the snapshot for own from the other members.
func NewSnapshot(own domain.ParticipantID, peers []domain.Peer) PeerSnapshot {
	s := PeerSnapshot{OwnID: own}
	if len(peers) == 0 {
		s.Empty = true
		return s
	}
	s.Peers = make(map[domain.ParticipantID]string, len(peers))
	for _, p := range peers {
		s.Peers[p.ID] = p.DisplayName
	}
	return s
}

// Encode wraps payload into a frame of type t. A nil payload is omitted.
func Encode(t EventType, payload any) ([]byte, error) {
	msg := Message{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return msg, nil
}

// Bind decodes the payload into v.
func (m Message) Bind(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformedFrame, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, m.Type, err)
	}
	return nil
}
