package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrIdentityUnset      = errors.New("own identity not yet known")
	ErrIdentityAlreadySet = errors.New("own identity already set")
	ErrRoomClosed         = errors.New("room client closed")
)

// Outbound is the client end of the signaling channel.
type Outbound interface {
	Send(t protocol.EventType, payload any) error
}

type RoomOptions struct {
	NewTransport       core.MediaFactory
	Sink               FrameSink
	NegotiationTimeout time.Duration
	// MaxRecreate bounds how often a failed session towards one peer is
	// rebuilt before the peer is given up.
	MaxRecreate int
	// OnCodeUpdate receives the shared editor contents, if set.
	OnCodeUpdate func(code string)
	// OnSessionState observes peer session transitions, if set.
	OnSessionState func(remote domain.ParticipantID, st State)
}

// RoomClient keeps one PeerSession per other participant of the room.
type RoomClient struct {
	out  Outbound
	opts RoomOptions

	mu        sync.Mutex
	self      domain.ParticipantID
	selfSet   bool
	closed    bool
	sessions  map[domain.ParticipantID]*PeerSession
	names     map[domain.ParticipantID]string
	recreated map[domain.ParticipantID]int
}

func NewRoomClient(out Outbound, opts RoomOptions) *RoomClient {
	return &RoomClient{
		out:       out,
		opts:      opts,
		sessions:  make(map[domain.ParticipantID]*PeerSession),
		names:     make(map[domain.ParticipantID]string),
		recreated: make(map[domain.ParticipantID]int),
	}
}

// Self returns the own participant id once the snapshot arrived.
func (rc *RoomClient) Self() (domain.ParticipantID, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.self, rc.selfSet
}

func (rc *RoomClient) Session(remote domain.ParticipantID) (*PeerSession, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	s, ok := rc.sessions[remote]
	return s, ok
}

func (rc *RoomClient) Peers() []domain.ParticipantID {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(rc.sessions))
	for id := range rc.sessions {
		out = append(out, id)
	}
	return out
}

// SendEnvelope implements Sender for the sessions of this room.
func (rc *RoomClient) SendEnvelope(env protocol.Envelope) error {
	return rc.out.Send(protocol.EventData, env)
}

// OnSnapshot learns the own identity and offers to every listed peer.
func (rc *RoomClient) OnSnapshot(snap protocol.PeerSnapshot) error {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return ErrRoomClosed
	}
	if rc.selfSet {
		rc.mu.Unlock()
		return ErrIdentityAlreadySet
	}
	rc.self, rc.selfSet = snap.OwnID, true
	log.Info().Str("module", "client.room").Str("self", string(snap.OwnID)).Int("peers", len(snap.Peers)).Msg("identity set")

	var created []*PeerSession
	var errs []error
	for id, name := range snap.Peers {
		if id == snap.OwnID {
			continue
		}
		rc.names[id] = name
		s, err := rc.createLocked(id, RoleInitiator)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, s)
	}
	rc.mu.Unlock()

	for _, s := range created {
		if err := s.InitiateOffer(); err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", s.Remote(), err))
		}
	}
	return errors.Join(errs...)
}

// OnPeerJoined prepares a responder session for the newcomer.
func (rc *RoomClient) OnPeerJoined(p protocol.PeerJoined) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return ErrRoomClosed
	}
	if !rc.selfSet {
		return ErrIdentityUnset
	}
	if p.ID == rc.self {
		return nil
	}
	rc.names[p.ID] = p.DisplayName
	_, err := rc.createLocked(p.ID, RoleResponder)
	return err
}

func (rc *RoomClient) OnPeerLeft(p protocol.PeerLeft) {
	rc.mu.Lock()
	s, ok := rc.sessions[p.ID]
	delete(rc.sessions, p.ID)
	delete(rc.names, p.ID)
	delete(rc.recreated, p.ID)
	rc.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "client.room").Str("peer", string(p.ID)).Msg("peer left")
	_ = s.Close()
}

// OnEnvelope hands an inbound signal to the session of its sender.
func (rc *RoomClient) OnEnvelope(env protocol.Envelope) {
	s, ok := rc.Session(env.Sender)
	if !ok {
		log.Debug().Str("module", "client.room").Str("sender", string(env.Sender)).Msg("envelope from unknown peer")
		return
	}
	var err error
	switch sig := env.Signal.(type) {
	case protocol.Offer:
		err = s.HandleOffer(sig.Description)
	case protocol.Answer:
		err = s.HandleAnswer(sig.Description)
	case protocol.CandidateSignal:
		err = s.HandleCandidate(sig.Init)
	}
	if err != nil {
		log.Debug().Str("module", "client.room").Str("sender", string(env.Sender)).Err(err).Msg("envelope not delivered")
	}
}

// Dispatch routes one decoded server frame.
func (rc *RoomClient) Dispatch(msg protocol.Message) error {
	switch msg.Type {
	case protocol.EventPeerList:
		var snap protocol.PeerSnapshot
		if err := msg.Bind(&snap); err != nil {
			return err
		}
		return rc.OnSnapshot(snap)
	case protocol.EventPeerJoined:
		var p protocol.PeerJoined
		if err := msg.Bind(&p); err != nil {
			return err
		}
		return rc.OnPeerJoined(p)
	case protocol.EventPeerLeft:
		var p protocol.PeerLeft
		if err := msg.Bind(&p); err != nil {
			return err
		}
		rc.OnPeerLeft(p)
	case protocol.EventData:
		var env protocol.Envelope
		if err := msg.Bind(&env); err != nil {
			return err
		}
		rc.OnEnvelope(env)
	case protocol.EventCodeUpdate:
		var cu protocol.CodeUpdate
		if err := msg.Bind(&cu); err != nil {
			return err
		}
		if rc.opts.OnCodeUpdate != nil {
			rc.opts.OnCodeUpdate(cu.Code)
		}
	case protocol.EventError:
		var e protocol.ErrorPayload
		_ = msg.Bind(&e)
		log.Warn().Str("module", "client.room").Str("error", e.Error).Msg("server error")
	case protocol.EventPong:
	default:
		log.Debug().Str("module", "client.room").Str("type", string(msg.Type)).Msg("ignoring frame")
	}
	return nil
}

// Close tears down every session and waits for them.
func (rc *RoomClient) Close() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	sessions := make([]*PeerSession, 0, len(rc.sessions))
	for _, s := range rc.sessions {
		sessions = append(sessions, s)
	}
	rc.sessions = make(map[domain.ParticipantID]*PeerSession)
	rc.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *PeerSession) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}
	wg.Wait()
	log.Info().Str("module", "client.room").Int("sessions", len(sessions)).Msg("room client closed")
}

func (rc *RoomClient) createLocked(remote domain.ParticipantID, role Role) (*PeerSession, error) {
	if old, ok := rc.sessions[remote]; ok {
		log.Warn().Str("module", "client.room").Str("peer", string(remote)).Msg("session already exists")
		return old, nil
	}
	s, err := NewPeerSession(PeerOptions{
		Self:               rc.self,
		Remote:             remote,
		Role:               role,
		Sender:             rc,
		NewTransport:       rc.opts.NewTransport,
		Sink:               rc.opts.Sink,
		NegotiationTimeout: rc.opts.NegotiationTimeout,
		OnFailed:           rc.onFailed,
		OnStateChange:      rc.onState,
	})
	if err != nil {
		return nil, err
	}
	rc.sessions[remote] = s
	log.Info().Str("module", "client.room").Str("peer", string(remote)).Str("role", role.String()).Msg("peer session created")
	return s, nil
}

func (rc *RoomClient) onState(s *PeerSession, st State) {
	if rc.opts.OnSessionState != nil {
		rc.opts.OnSessionState(s.Remote(), st)
	}
}

// onFailed replaces a failed session with a fresh one of the same role
// until the per-peer budget is spent.
func (rc *RoomClient) onFailed(s *PeerSession, err error) {
	remote := s.Remote()
	rc.mu.Lock()
	if rc.closed || rc.sessions[remote] != s {
		rc.mu.Unlock()
		return
	}
	delete(rc.sessions, remote)
	retry := rc.recreated[remote] < rc.opts.MaxRecreate
	var next *PeerSession
	var createErr error
	if retry {
		rc.recreated[remote]++
		next, createErr = rc.createLocked(remote, s.Role())
	}
	rc.mu.Unlock()

	_ = s.Close()
	if !retry {
		log.Warn().Str("module", "client.room").Str("peer", string(remote)).Err(err).Msg("giving up on peer")
		return
	}
	if createErr != nil {
		log.Error().Str("module", "client.room").Str("peer", string(remote)).Err(createErr).Msg("recreate session")
		return
	}
	log.Info().Str("module", "client.room").Str("peer", string(remote)).Err(err).Msg("session recreated")
	if next.Role() == RoleInitiator {
		if err := next.InitiateOffer(); err != nil {
			log.Warn().Str("module", "client.room").Str("peer", string(remote)).Err(err).Msg("re-offer")
		}
	}
}
