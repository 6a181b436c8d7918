package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Interview/internal/client"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// PeerStats counts the video received from one participant.
type PeerStats struct {
	Peer     domain.ParticipantID `json:"peer"`
	Tracks   int                  `json:"tracks"`
	Packets  uint64               `json:"packets"`
	Bytes    uint64               `json:"bytes"`
	LastSeen time.Time            `json:"last_seen"`
}

type peerCounter struct {
	tracks   map[string]struct{}
	packets  uint64
	bytes    uint64
	lastSeen time.Time
}

// FrameMonitor is the agent's frame sink. It keeps receive statistics per
// peer and forwards each frame to an optional consumer.
type FrameMonitor struct {
	consumer client.FrameSink
	now      func() time.Time

	mu    sync.Mutex
	peers map[domain.ParticipantID]*peerCounter
}

func NewFrameMonitor(consumer client.FrameSink) *FrameMonitor {
	return &FrameMonitor{
		consumer: consumer,
		now:      time.Now,
		peers:    make(map[domain.ParticipantID]*peerCounter),
	}
}

func (m *FrameMonitor) OnFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet) {
	m.mu.Lock()
	pc, ok := m.peers[peer]
	if !ok {
		pc = &peerCounter{tracks: make(map[string]struct{})}
		m.peers[peer] = pc
	}
	pc.tracks[track] = struct{}{}
	pc.packets++
	pc.bytes += uint64(len(pkt.Payload))
	pc.lastSeen = m.now()
	m.mu.Unlock()

	if m.consumer != nil {
		m.consumer.OnFrame(peer, track, pkt)
	}
}

// Stats returns a snapshot ordered by peer id.
func (m *FrameMonitor) Stats() []PeerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerStats, 0, len(m.peers))
	for id, pc := range m.peers {
		out = append(out, PeerStats{
			Peer:     id,
			Tracks:   len(pc.tracks),
			Packets:  pc.packets,
			Bytes:    pc.bytes,
			LastSeen: pc.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Forget drops the counters of a peer that left.
func (m *FrameMonitor) Forget(peer domain.ParticipantID) {
	m.mu.Lock()
	delete(m.peers, peer)
	m.mu.Unlock()
}

// Report logs the statistics every interval until ctx ends.
func (m *FrameMonitor) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range m.Stats() {
				log.Info().Str("module", "agent.monitor").
					Str("peer", string(st.Peer)).
					Int("tracks", st.Tracks).
					Uint64("packets", st.Packets).
					Uint64("bytes", st.Bytes).
					Dur("idle", m.now().Sub(st.LastSeen)).
					Msg("video stats")
			}
		}
	}
}
