// Package client runs the participant side of a room: one peer session per
// remote participant, negotiated over the signaling channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed      = errors.New("peer session closed")
	ErrNotInitiator       = errors.New("only the initiator sends the first offer")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrConnectivityFailed = errors.New("connectivity failed after ice restart")
)

const (
	DefaultNegotiationTimeout = 30 * time.Second

	commandQueue      = 64
	maxPendingRemotes = 256
)

type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

type State int32

const (
	StateIdle State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool { return s == StateFailed || s == StateClosed }

// Sender delivers an envelope to the signaling channel.
type Sender interface {
	SendEnvelope(protocol.Envelope) error
}

type PeerOptions struct {
	Self   domain.ParticipantID
	Remote domain.ParticipantID
	Role   Role

	Sender       Sender
	NewTransport core.MediaFactory
	Sink         FrameSink

	// NegotiationTimeout bounds offer-sent and answer-sent.
	NegotiationTimeout time.Duration
	// OnFailed runs on its own goroutine once the session reaches failed.
	OnFailed func(*PeerSession, error)
	// OnStateChange runs on the session goroutine; it must not block.
	OnStateChange func(*PeerSession, State)
}

// PeerSession negotiates and owns the transport towards one remote
// participant. All negotiation runs on a single goroutine; the exported
// methods only enqueue work.
type PeerSession struct {
	self, remote domain.ParticipantID
	role         Role
	sender       Sender
	transport    core.MediaConnection
	sink         FrameSink
	timeout      time.Duration
	onFailed     func(*PeerSession, error)
	onState      func(*PeerSession, State)
	logger       zerolog.Logger

	state atomic.Int32
	cmds  chan func()
	ctx   context.Context
	stop  context.CancelFunc

	mu        sync.Mutex
	closing   bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	// owned by the session goroutine
	remoteSet      bool
	pending        []webrtc.ICECandidateInit
	failures       int
	restarting     bool
	transportState webrtc.PeerConnectionState
	deadline       *time.Timer
	deadlineC      <-chan time.Time
}

func NewPeerSession(opts PeerOptions) (*PeerSession, error) {
	if opts.Sender == nil || opts.NewTransport == nil {
		return nil, errors.New("peer session needs a sender and a transport factory")
	}
	transport, err := opts.NewTransport(opts.Remote)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", opts.Remote, err)
	}
	timeout := opts.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &PeerSession{
		self:      opts.Self,
		remote:    opts.Remote,
		role:      opts.Role,
		sender:    opts.Sender,
		transport: transport,
		sink:      opts.Sink,
		timeout:   timeout,
		onFailed:  opts.OnFailed,
		onState:   opts.OnStateChange,
		logger:    log.With().Str("module", "client.peer").Str("peer", string(opts.Remote)).Str("role", opts.Role.String()).Logger(),
		cmds:      make(chan func(), commandQueue),
		ctx:       ctx,
		stop:      stop,
	}

	transport.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.enqueue(func() { s.send(protocol.CandidateSignal{Init: c}) })
	})
	transport.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.enqueue(func() { s.onTransportState(st) })
	})
	transport.OnTrack(s.startReceive)

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *PeerSession) Remote() domain.ParticipantID { return s.remote }
func (s *PeerSession) Role() Role                   { return s.role }
func (s *PeerSession) State() State                 { return State(s.state.Load()) }

// InitiateOffer starts negotiation. Only the initiator may call it.
func (s *PeerSession) InitiateOffer() error {
	if s.role != RoleInitiator {
		return ErrNotInitiator
	}
	return s.enqueue(func() {
		if s.State() != StateIdle {
			s.logger.Debug().Str("state", s.State().String()).Msg("offer already started")
			return
		}
		s.offer(false)
	})
}

func (s *PeerSession) HandleOffer(desc webrtc.SessionDescription) error {
	return s.enqueue(func() { s.handleOffer(desc) })
}

func (s *PeerSession) HandleAnswer(desc webrtc.SessionDescription) error {
	return s.enqueue(func() { s.handleAnswer(desc) })
}

func (s *PeerSession) HandleCandidate(c webrtc.ICECandidateInit) error {
	return s.enqueue(func() { s.handleCandidate(c) })
}

// Close tears the session down and returns once its goroutines are gone.
func (s *PeerSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.stop()
		err = s.transport.Close()
		s.wg.Wait()

		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.setState(StateClosed)
	})
	return err
}

func (s *PeerSession) enqueue(cmd func()) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *PeerSession) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd()
		case <-s.deadlineC:
			s.deadlineC = nil
			if st := s.State(); st == StateOfferSent || st == StateAnswerSent || s.restarting {
				s.fail(ErrNegotiationTimeout)
			}
		}
	}
}

func (s *PeerSession) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.logger.Info().Str("from", prev.String()).Str("to", st.String()).Msg("state change")
	if s.onState != nil {
		s.onState(s, st)
	}
}

func (s *PeerSession) armDeadline() {
	s.disarmDeadline()
	s.deadline = time.NewTimer(s.timeout)
	s.deadlineC = s.deadline.C
}

func (s *PeerSession) disarmDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.deadline, s.deadlineC = nil, nil
}

func (s *PeerSession) send(sig protocol.Signal) {
	env := protocol.Envelope{Sender: s.self, Target: s.remote, Signal: sig}
	if err := s.sender.SendEnvelope(env); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(sig.Kind())).Msg("signal not sent")
	}
}

func (s *PeerSession) offer(iceRestart bool) {
	desc, err := s.transport.CreateOffer(iceRestart)
	if err != nil {
		s.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := s.transport.SetLocalDescription(desc); err != nil {
		s.fail(fmt.Errorf("set local offer: %w", err))
		return
	}
	s.setState(StateOfferSent)
	s.armDeadline()
	s.send(protocol.Offer{Description: desc})
}

func (s *PeerSession) handleOffer(desc webrtc.SessionDescription) {
	if s.State().Terminal() {
		return
	}
	desc.Type = webrtc.SDPTypeOffer
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		s.logger.Warn().Err(err).Msg("discarding remote offer")
		return
	}
	s.remoteSet = true
	s.flushPending()

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		s.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		s.fail(fmt.Errorf("set local answer: %w", err))
		return
	}
	s.setState(StateAnswerSent)
	s.armDeadline()
	s.send(protocol.Answer{Description: answer})
	if s.transportState == webrtc.PeerConnectionStateConnected {
		s.connected()
	}
}

func (s *PeerSession) handleAnswer(desc webrtc.SessionDescription) {
	if s.State() != StateOfferSent {
		s.logger.Warn().Str("state", s.State().String()).Msg("unexpected answer")
		return
	}
	desc.Type = webrtc.SDPTypeAnswer
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		s.logger.Warn().Err(err).Msg("discarding remote answer")
		return
	}
	s.remoteSet = true
	s.flushPending()
	if s.transportState == webrtc.PeerConnectionStateConnected {
		s.connected()
	}
}

func (s *PeerSession) handleCandidate(c webrtc.ICECandidateInit) {
	if s.State().Terminal() {
		return
	}
	if c.Candidate == "" {
		return
	}
	if _, err := protocol.ParseCandidate(c.Candidate); err != nil {
		s.logger.Warn().Err(err).Msg("discarding candidate")
		return
	}
	if !s.remoteSet {
		if len(s.pending) >= maxPendingRemotes {
			s.logger.Warn().Msg("candidate buffer full, dropping candidate")
			return
		}
		s.pending = append(s.pending, c)
		return
	}
	if err := s.transport.AddICECandidate(c); err != nil {
		s.logger.Warn().Err(err).Msg("add candidate")
	}
}

func (s *PeerSession) flushPending() {
	for _, c := range s.pending {
		if err := s.transport.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Msg("add buffered candidate")
		}
	}
	s.pending = nil
}

func (s *PeerSession) onTransportState(st webrtc.PeerConnectionState) {
	s.transportState = st
	if s.State().Terminal() {
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.remoteSet {
			s.connected()
		}
	case webrtc.PeerConnectionStateFailed:
		s.transportFailed()
	}
}

func (s *PeerSession) connected() {
	s.failures = 0
	s.restarting = false
	s.disarmDeadline()
	s.setState(StateConnected)
}

// transportFailed restarts ICE once. The responder waits for the
// initiator's restart offer so both sides never offer at once.
func (s *PeerSession) transportFailed() {
	s.failures++
	if s.failures > 1 {
		s.fail(ErrConnectivityFailed)
		return
	}
	s.logger.Warn().Msg("transport failed, restarting ice")
	s.restarting = true
	if s.role == RoleInitiator {
		s.offer(true)
		return
	}
	s.armDeadline()
}

func (s *PeerSession) fail(err error) {
	if s.State().Terminal() {
		return
	}
	s.disarmDeadline()
	s.logger.Error().Err(err).Msg("peer session failed")
	s.setState(StateFailed)
	if s.onFailed != nil {
		go s.onFailed(s, err)
	}
}
