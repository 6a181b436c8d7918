package app

import (
	"hash/fnv"
	"sync"

	"github.com/dkeye/Interview/internal/domain"
)

const roomLockStripes = 64

// RoomLocks serializes work per room. Rooms hash onto a fixed set of
// mutexes, so unrelated rooms rarely contend.
type RoomLocks struct {
	stripes [roomLockStripes]sync.Mutex
}

// Lock takes the stripe for room and returns its unlock.
func (l *RoomLocks) Lock(room domain.RoomID) func() {
	m := &l.stripes[stripe(room)]
	m.Lock()
	return m.Unlock
}

func stripe(room domain.RoomID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return h.Sum32() % roomLockStripes
}
