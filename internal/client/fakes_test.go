package client

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const hostCandidate = "candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host"

type fakeTransport struct {
	self, remote domain.ParticipantID
	net          *fakeNet

	mu        sync.Mutex
	local     *webrtc.SessionDescription
	remoteSDP *webrtc.SessionDescription
	applied   []webrtc.ICECandidateInit
	addErrs   int
	offers    int
	restarts  int
	closed    bool
	tracks    []*fakeTrack

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func newFakeTransport(self, remote domain.ParticipantID) *fakeTransport {
	return &fakeTransport{self: self, remote: remote}
}

func (t *fakeTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, errors.New("closed")
	}
	t.offers++
	if iceRestart {
		t.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + string(t.self)}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteSDP == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + string(t.self)}, nil
}

func (t *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	t.local = &d
	t.mu.Unlock()
	if t.net != nil {
		t.net.check(t)
		go t.emitCandidate(hostCandidate)
	}
	return nil
}

func (t *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	t.remoteSDP = &d
	t.mu.Unlock()
	if t.net != nil {
		t.net.check(t)
	}
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteSDP == nil {
		t.addErrs++
		return errors.New("remote description not set")
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(fn func(core.RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, tr := range t.tracks {
		tr.close()
	}
	return nil
}

func (t *fakeTransport) emitState(st webrtc.PeerConnectionState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (t *fakeTransport) emitCandidate(line string) {
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(webrtc.ICECandidateInit{Candidate: line})
	}
}

func (t *fakeTransport) emitTrack(tr *fakeTrack) {
	t.mu.Lock()
	t.tracks = append(t.tracks, tr)
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}

func (t *fakeTransport) snapshot() (local, remote bool, applied []webrtc.ICECandidateInit, addErrs, restarts int, closed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local != nil, t.remoteSDP != nil, append([]webrtc.ICECandidateInit(nil), t.applied...), t.addErrs, t.restarts, t.closed
}

func (t *fakeTransport) negotiated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local != nil && t.remoteSDP != nil
}

// fakeNet connects two transports once both sides hold a local and a
// remote description.
type fakeNet struct {
	mu        sync.Mutex
	ends      map[[2]domain.ParticipantID]*fakeTransport
	connected map[[2]domain.ParticipantID]bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		ends:      make(map[[2]domain.ParticipantID]*fakeTransport),
		connected: make(map[[2]domain.ParticipantID]bool),
	}
}

func (n *fakeNet) factory(self domain.ParticipantID) core.MediaFactory {
	return func(remote domain.ParticipantID) (core.MediaConnection, error) {
		t := newFakeTransport(self, remote)
		t.net = n
		n.mu.Lock()
		n.ends[[2]domain.ParticipantID{self, remote}] = t
		n.mu.Unlock()
		return t, nil
	}
}

// lazyFactory lets the factory learn its owner after the snapshot.
func (n *fakeNet) lazyFactory(self func() domain.ParticipantID) core.MediaFactory {
	return func(remote domain.ParticipantID) (core.MediaConnection, error) {
		return n.factory(self())(remote)
	}
}

func (n *fakeNet) check(t *fakeTransport) {
	n.mu.Lock()
	other, ok := n.ends[[2]domain.ParticipantID{t.remote, t.self}]
	key := [2]domain.ParticipantID{t.self, t.remote}
	if t.self > t.remote {
		key = [2]domain.ParticipantID{t.remote, t.self}
	}
	if !ok || n.connected[key] || !t.negotiated() || !other.negotiated() {
		n.mu.Unlock()
		return
	}
	n.connected[key] = true
	n.mu.Unlock()
	go t.emitState(webrtc.PeerConnectionStateConnected)
	go other.emitState(webrtc.PeerConnectionStateConnected)
}

func (n *fakeNet) addErrors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, t := range n.ends {
		_, _, _, errs, _, _ := t.snapshot()
		total += errs
	}
	return total
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	packets chan *rtp.Packet
	done    chan struct{}
	once    sync.Once
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, packets: make(chan *rtp.Packet, 16), done: make(chan struct{})}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case p := <-t.packets:
		return p, nil, nil
	case <-t.done:
		return nil, nil, io.EOF
	}
}

func (t *fakeTrack) close() { t.once.Do(func() { close(t.done) }) }

type fakeSender struct {
	ch chan protocol.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan protocol.Envelope, 64)}
}

func (s *fakeSender) SendEnvelope(env protocol.Envelope) error {
	s.ch <- env
	return nil
}

func (s *fakeSender) next(t *testing.T, kind protocol.SignalKind) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-s.ch:
			if env.Signal.Kind() == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s envelope sent", kind)
		}
	}
}

func (s *fakeSender) none(t *testing.T, kind protocol.SignalKind, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case env := <-s.ch:
			if env.Signal.Kind() == kind {
				t.Fatalf("unexpected %s envelope", kind)
			}
		case <-deadline:
			return
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
