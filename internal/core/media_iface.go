package core

import (
	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the receive side of one inbound media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaConnection is the peer transport a session negotiates over.
// Callbacks must be registered before the first offer or answer.
type MediaConnection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// Close should stop all underlying media resources and unblock ReadRTP.
	Close() error
}

// MediaFactory builds a fresh transport for the session towards remote.
type MediaFactory func(remote domain.ParticipantID) (MediaConnection, error)
