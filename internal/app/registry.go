package app

import (
	"sync"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the single owner of room membership on the server.
// State is mutated only through Join and Leave; callers serialize per room
// with RoomLocks when a mutation must be atomic with its notifications.
type Registry struct {
	mu    sync.RWMutex
	index map[domain.ParticipantID]domain.RoomID
	rooms *RoomManager
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[domain.ParticipantID]domain.RoomID),
		rooms: NewRoomManager(),
	}
}

// Join admits conn to roomID under a fresh participant id. wasEmpty reports
// whether nobody else was in the room.
func (r *Registry) Join(roomID domain.RoomID, displayName string, conn core.SignalConnection) (domain.Participant, bool) {
	p := domain.Participant{
		ID:          domain.NewParticipantID(),
		DisplayName: displayName,
		Room:        roomID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms.GetOrCreate(roomID)
	wasEmpty := room.AddMember(core.Member{Participant: p, Signal: conn})
	r.index[p.ID] = roomID
	log.Info().Str("module", "app.registry").Str("participant", string(p.ID)).Str("room", string(roomID)).Str("name", displayName).Msg("joined")
	return p, wasEmpty
}

// Leave removes id. Unknown ids are a no-op reported with ok=false.
func (r *Registry) Leave(id domain.ParticipantID) (roomID domain.RoomID, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok = r.index[id]
	if !ok {
		return "", 0, false
	}
	delete(r.index, id)
	room, found := r.rooms.Get(roomID)
	if !found {
		return roomID, 0, true
	}
	room.RemoveMember(id)
	remaining = room.Len()
	if r.rooms.RemoveIfEmpty(roomID) {
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room destroyed")
	}
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Str("room", string(roomID)).Int("remaining", remaining).Msg("left")
	return roomID, remaining, true
}

// PeersOf lists the members of roomID in join order, skipping excluding.
func (r *Registry) PeersOf(roomID domain.RoomID, excluding domain.ParticipantID) []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return []domain.Peer{}
	}
	return room.Peers(excluding)
}

func (r *Registry) Lookup(id domain.ParticipantID) (core.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.index[id]
	if !ok {
		return core.Member{}, false
	}
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return core.Member{}, false
	}
	return room.Member(id)
}

// Room returns the live room; rooms without members do not exist.
func (r *Registry) Room(roomID domain.RoomID) (*core.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms.Get(roomID)
}

func (r *Registry) MembersOf(roomID domain.RoomID) []core.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return nil
	}
	return room.Members("")
}

func (r *Registry) Rooms() []domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms.List()
}

// Close drops all membership and closes every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	rooms := r.rooms.Clear()
	r.index = make(map[domain.ParticipantID]domain.RoomID)
	r.mu.Unlock()
	for _, room := range rooms {
		for _, m := range room.Members("") {
			m.Signal.Close()
		}
	}
	log.Info().Str("module", "app.registry").Int("rooms", len(rooms)).Msg("registry closed")
}
