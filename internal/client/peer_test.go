package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type failure struct {
	s   *PeerSession
	err error
}

type peerHarness struct {
	session   *PeerSession
	transport *fakeTransport
	sender    *fakeSender
	failed    chan failure
}

func newPeerHarness(t *testing.T, role Role, timeout time.Duration, sink FrameSink) *peerHarness {
	t.Helper()
	h := &peerHarness{sender: newFakeSender(), failed: make(chan failure, 4)}
	s, err := NewPeerSession(PeerOptions{
		Self:   "self",
		Remote: "remote",
		Role:   role,
		Sender: h.sender,
		NewTransport: func(remote domain.ParticipantID) (core.MediaConnection, error) {
			h.transport = newFakeTransport("self", remote)
			return h.transport, nil
		},
		Sink:               sink,
		NegotiationTimeout: timeout,
		OnFailed:           func(s *PeerSession, err error) { h.failed <- failure{s, err} },
	})
	if err != nil {
		t.Fatalf("NewPeerSession: %v", err)
	}
	h.session = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *peerHarness) waitState(t *testing.T, want State) {
	t.Helper()
	eventually(t, "state "+want.String(), func() bool { return h.session.State() == want })
}

func (h *peerHarness) waitFailure(t *testing.T) failure {
	t.Helper()
	select {
	case f := <-h.failed:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("session did not fail")
		return failure{}
	}
}

func remoteOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote offer"}
}

func remoteAnswer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote answer"}
}

func TestNewPeerSessionNeedsSenderAndFactory(t *testing.T) {
	if _, err := NewPeerSession(PeerOptions{Remote: "x"}); err == nil {
		t.Fatal("expected error without sender and factory")
	}
	boom := errors.New("boom")
	_, err := NewPeerSession(PeerOptions{
		Remote:       "x",
		Sender:       newFakeSender(),
		NewTransport: func(domain.ParticipantID) (core.MediaConnection, error) { return nil, boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestInitiatorOffersAndConnects(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, time.Second, nil)
	if h.session.State() != StateIdle {
		t.Fatalf("initial state = %s", h.session.State())
	}
	if err := h.session.InitiateOffer(); err != nil {
		t.Fatalf("InitiateOffer: %v", err)
	}
	env := h.sender.next(t, protocol.KindOffer)
	if env.Sender != "self" || env.Target != "remote" {
		t.Fatalf("offer addressed %s -> %s", env.Sender, env.Target)
	}
	h.waitState(t, StateOfferSent)

	// A second call does not renegotiate.
	_ = h.session.InitiateOffer()
	h.sender.none(t, protocol.KindOffer, 50*time.Millisecond)

	_ = h.session.HandleAnswer(remoteAnswer())
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)
}

func TestResponderCannotInitiate(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	if err := h.session.InitiateOffer(); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("err = %v, want ErrNotInitiator", err)
	}
}

func TestResponderAnswersOffer(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	_ = h.session.HandleOffer(remoteOffer())
	env := h.sender.next(t, protocol.KindAnswer)
	ans := env.Signal.(protocol.Answer)
	if ans.Description.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %s", ans.Description.Type)
	}
	h.waitState(t, StateAnswerSent)

	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)
}

func TestAnswerOutsideOfferSentIgnored(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	_ = h.session.HandleAnswer(remoteAnswer())
	time.Sleep(30 * time.Millisecond)
	if _, remote, _, _, _, _ := h.transport.snapshot(); remote {
		t.Fatal("stray answer applied")
	}
	if h.session.State() != StateIdle {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	c := webrtc.ICECandidateInit{Candidate: hostCandidate}
	_ = h.session.HandleCandidate(c)
	_ = h.session.HandleCandidate(c)
	time.Sleep(30 * time.Millisecond)
	if _, _, applied, _, _, _ := h.transport.snapshot(); len(applied) != 0 {
		t.Fatalf("applied %d candidates before the offer", len(applied))
	}

	_ = h.session.HandleOffer(remoteOffer())
	h.sender.next(t, protocol.KindAnswer)
	_ = h.session.HandleCandidate(c)
	eventually(t, "candidates applied", func() bool {
		_, _, applied, _, _, _ := h.transport.snapshot()
		return len(applied) == 3
	})
	if _, _, _, errs, _, _ := h.transport.snapshot(); errs != 0 {
		t.Fatalf("%d candidates hit the transport too early", errs)
	}
}

func TestMalformedCandidateIgnored(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	_ = h.session.HandleOffer(remoteOffer())
	h.sender.next(t, protocol.KindAnswer)

	_ = h.session.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:garbage"})
	_ = h.session.HandleCandidate(webrtc.ICECandidateInit{Candidate: ""})
	_ = h.session.HandleCandidate(webrtc.ICECandidateInit{Candidate: hostCandidate})
	eventually(t, "valid candidate applied", func() bool {
		_, _, applied, _, _, _ := h.transport.snapshot()
		return len(applied) == 1
	})
	if st := h.session.State(); st.Terminal() {
		t.Fatalf("state = %s after malformed candidate", st)
	}
}

func TestLocalCandidatesAreSignaled(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, time.Second, nil)
	_ = h.session.InitiateOffer()
	h.sender.next(t, protocol.KindOffer)
	h.transport.emitCandidate(hostCandidate)
	env := h.sender.next(t, protocol.KindCandidate)
	if got := env.Signal.(protocol.CandidateSignal).Init.Candidate; got != hostCandidate {
		t.Fatalf("candidate = %q", got)
	}
}

func TestNegotiationTimeoutFails(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, 40*time.Millisecond, nil)
	_ = h.session.InitiateOffer()
	f := h.waitFailure(t)
	if !errors.Is(f.err, ErrNegotiationTimeout) {
		t.Fatalf("err = %v, want ErrNegotiationTimeout", f.err)
	}
	if f.s != h.session || h.session.State() != StateFailed {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestInitiatorRestartsIceOnceThenFails(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, time.Second, nil)
	_ = h.session.InitiateOffer()
	h.sender.next(t, protocol.KindOffer)
	_ = h.session.HandleAnswer(remoteAnswer())
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)

	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	h.sender.next(t, protocol.KindOffer)
	if _, _, _, _, restarts, _ := h.transport.snapshot(); restarts != 1 {
		t.Fatalf("ice restarts = %d, want 1", restarts)
	}
	h.waitState(t, StateOfferSent)

	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	f := h.waitFailure(t)
	if !errors.Is(f.err, ErrConnectivityFailed) {
		t.Fatalf("err = %v, want ErrConnectivityFailed", f.err)
	}
	if _, _, _, _, restarts, _ := h.transport.snapshot(); restarts != 1 {
		t.Fatalf("ice restarts = %d, want 1", restarts)
	}
}

func TestRestartRecoversAndResetsBudget(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, time.Second, nil)
	_ = h.session.InitiateOffer()
	h.sender.next(t, protocol.KindOffer)
	_ = h.session.HandleAnswer(remoteAnswer())
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)

	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	h.sender.next(t, protocol.KindOffer)
	h.waitState(t, StateOfferSent)
	_ = h.session.HandleAnswer(remoteAnswer())
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)

	// Recovered, so the next failure gets a fresh restart.
	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	h.sender.next(t, protocol.KindOffer)
	if _, _, _, _, restarts, _ := h.transport.snapshot(); restarts != 2 {
		t.Fatalf("ice restarts = %d, want 2", restarts)
	}
}

func TestResponderWaitsForRestartOffer(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, time.Second, nil)
	_ = h.session.HandleOffer(remoteOffer())
	h.sender.next(t, protocol.KindAnswer)
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)

	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	h.sender.none(t, protocol.KindOffer, 50*time.Millisecond)

	_ = h.session.HandleOffer(remoteOffer())
	h.sender.next(t, protocol.KindAnswer)
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)
}

func TestResponderRestartBoundedByDeadline(t *testing.T) {
	h := newPeerHarness(t, RoleResponder, 50*time.Millisecond, nil)
	_ = h.session.HandleOffer(remoteOffer())
	h.sender.next(t, protocol.KindAnswer)
	h.transport.emitState(webrtc.PeerConnectionStateConnected)
	h.waitState(t, StateConnected)

	h.transport.emitState(webrtc.PeerConnectionStateFailed)
	f := h.waitFailure(t)
	if !errors.Is(f.err, ErrNegotiationTimeout) {
		t.Fatalf("err = %v, want ErrNegotiationTimeout", f.err)
	}
}

type countingSink struct {
	mu     sync.Mutex
	frames map[string]int
}

func (c *countingSink) OnFrame(_ domain.ParticipantID, track string, _ *rtp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		c.frames = make(map[string]int)
	}
	c.frames[track]++
}

func (c *countingSink) count(track string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[track]
}

func TestReceiveLoopsStopOnClose(t *testing.T) {
	sink := &countingSink{}
	h := newPeerHarness(t, RoleResponder, time.Second, sink)

	video := newFakeTrack("cam", webrtc.RTPCodecTypeVideo)
	audio := newFakeTrack("mic", webrtc.RTPCodecTypeAudio)
	h.transport.emitTrack(video)
	h.transport.emitTrack(audio)
	video.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	video.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 2}}
	eventually(t, "video frames", func() bool { return sink.count("cam") == 2 })

	if err := h.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close waited for the loops, so nothing is delivered afterwards.
	before := sink.count("cam")
	select {
	case video.packets <- &rtp.Packet{}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if sink.count("cam") != before {
		t.Fatal("frame delivered after Close")
	}
	if sink.count("mic") != 0 {
		t.Fatal("audio track was consumed")
	}
	if h.session.State() != StateClosed {
		t.Fatalf("state = %s", h.session.State())
	}
	if _, _, _, _, _, closed := h.transport.snapshot(); !closed {
		t.Fatal("transport left open")
	}
}

func TestClosedSessionRejectsWork(t *testing.T) {
	h := newPeerHarness(t, RoleInitiator, time.Second, nil)
	_ = h.session.Close()
	_ = h.session.Close()
	if err := h.session.InitiateOffer(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("InitiateOffer err = %v", err)
	}
	if err := h.session.HandleOffer(remoteOffer()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("HandleOffer err = %v", err)
	}
	// Tracks arriving after Close are not read.
	h.transport.emitTrack(newFakeTrack("late", webrtc.RTPCodecTypeVideo))
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateOfferSent:  "offer-sent",
		StateAnswerSent: "answer-sent",
		StateConnected:  "connected",
		StateFailed:     "failed",
		StateClosed:     "closed",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
	if !StateFailed.Terminal() || !StateClosed.Terminal() || StateConnected.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
