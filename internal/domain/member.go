package domain

import "github.com/google/uuid"

// ParticipantID is unique per connection lifetime, never reused.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Participant is one joined connection: who it is and where.
// No transport or lifecycle logic here.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	Room        RoomID
}

// Peer is the informational view of another participant.
type Peer struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
}

func (p Participant) Peer() Peer {
	return Peer{ID: p.ID, DisplayName: p.DisplayName}
}
