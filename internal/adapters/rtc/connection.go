// Package rtc implements the peer transport on pion/webrtc.
package rtc

import (
	"fmt"
	"sync"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// WebRTCConfig builds the static relay hint list. An empty list falls back
// to the public STUN servers.
func WebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// PeerTransport is one pion PeerConnection towards a remote participant,
// receiving a single video stream.
type PeerTransport struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

func NewPeerTransport(cfg webrtc.Configuration, remote domain.ParticipantID) (*PeerTransport, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}

	t := &PeerTransport{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		t.mu.RLock()
		fn := t.onState
		t.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		t.mu.RLock()
		fn := t.onICE
		t.mu.RUnlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t.mu.RLock()
		fn := t.onTrack
		t.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})
	return t, nil
}

// Factory returns a core.MediaFactory producing transports with cfg.
func Factory(cfg webrtc.Configuration) core.MediaFactory {
	return func(remote domain.ParticipantID) (core.MediaConnection, error) {
		return NewPeerTransport(cfg, remote)
	}
}

func (t *PeerTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return t.pc.CreateOffer(opts)
}

func (t *PeerTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *PeerTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(d)
}

func (t *PeerTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(d)
}

func (t *PeerTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *PeerTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (t *PeerTransport) OnTrack(fn func(core.RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *PeerTransport) Close() error {
	err := t.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(t.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", string(t.remote)).Msg("closed")
	}
	return err
}
