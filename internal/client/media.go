package client

import (
	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// FrameSink consumes inbound media. OnFrame is called from the receive
// goroutine of each track and must not retain pkt after returning.
type FrameSink interface {
	OnFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet)
}

type FrameSinkFunc func(peer domain.ParticipantID, track string, pkt *rtp.Packet)

func (f FrameSinkFunc) OnFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet) {
	f(peer, track, pkt)
}

// startReceive runs one receive loop per inbound video track, scoped to the
// session.
func (s *PeerSession) startReceive(track core.RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		s.logger.Debug().Str("kind", track.Kind().String()).Msg("ignoring non-video track")
		return
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go s.receive(track)
}

func (s *PeerSession) receive(track core.RemoteTrack) {
	defer s.wg.Done()
	logger := s.logger.With().Str("track", track.ID()).Logger()
	logger.Info().Msg("receive loop started")
	for {
		select {
		case <-s.ctx.Done():
			logger.Info().Msg("receive loop stopped")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Debug().Err(err).Msg("read RTP error, stopping")
			}
			return
		}
		if s.sink != nil {
			s.sink.OnFrame(s.remote, track.ID(), pkt)
		}
	}
}
