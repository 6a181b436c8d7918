package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
)

// RoomManager owns the live rooms. A room exists only while it has members.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]*core.Room)}
}

func (f *RoomManager) GetOrCreate(id domain.RoomID) *core.Room {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoom(id)
	f.rooms[id] = room
	return room
}

func (f *RoomManager) Get(id domain.RoomID) (*core.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// RemoveIfEmpty drops the room once its last member is gone, so a later
// join with the same id starts fresh.
func (f *RoomManager) RemoveIfEmpty(id domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok || room.Len() > 0 {
		return false
	}
	delete(f.rooms, id)
	return true
}

func (f *RoomManager) List() []domain.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, domain.RoomInfo{ID: id, Members: r.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *RoomManager) Clear() []*core.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*core.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r)
	}
	f.rooms = make(map[domain.RoomID]*core.Room)
	return out
}
