package core

import (
	"sync"

	"github.com/dkeye/Interview/internal/domain"
	"github.com/rs/zerolog/log"
)

// Room is a threadsafe in-memory membership set kept in join order.
// It never closes adapter-owned resources.
type Room struct {
	id      domain.RoomID
	mu      sync.RWMutex
	order   []domain.ParticipantID
	members map[domain.ParticipantID]Member
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:      id,
		members: make(map[domain.ParticipantID]Member),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// AddMember reports whether the room was empty before the add.
func (r *Room) AddMember(m Member) bool {
	id := m.Participant.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	wasEmpty := len(r.members) == 0
	if _, ok := r.members[id]; !ok {
		r.order = append(r.order, id)
	}
	r.members[id] = m
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("member added")
	return wasEmpty
}

func (r *Room) RemoveMember(id domain.ParticipantID) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	delete(r.members, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("member removed")
	return m, true
}

func (r *Room) Member(id domain.ParticipantID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// Members returns the members in join order, skipping excluding.
func (r *Room) Members(excluding domain.ParticipantID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		if id == excluding {
			continue
		}
		out = append(out, r.members[id])
	}
	return out
}

func (r *Room) Peers(excluding domain.ParticipantID) []domain.Peer {
	members := r.Members(excluding)
	out := make([]domain.Peer, 0, len(members))
	for _, m := range members {
		out = append(out, m.Participant.Peer())
	}
	return out
}

// Broadcast offers frame to every member except from. It never blocks.
func (r *Room) Broadcast(from domain.ParticipantID, frame Frame) PublishResult {
	res := PublishResult{}
	for _, m := range r.Members(from) {
		if err := m.Signal.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
