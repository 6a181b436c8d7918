// Package orch routes signaling frames between the members of a room.
package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/Interview/internal/app"
	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ConnState int

const (
	StateConnecting ConnState = iota
	StateJoined
	StateLeft
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Conn is the router's view of one signaling connection.
type Conn struct {
	key    string
	signal core.SignalConnection
	creds  domain.Credentials

	mu    sync.Mutex
	state ConnState
	id    domain.ParticipantID
	room  domain.RoomID
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participant returns the id and room once joined.
func (c *Conn) Participant() (domain.ParticipantID, domain.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.room, c.state == StateJoined
}

func (c *Conn) join(id domain.ParticipantID, room domain.RoomID) {
	c.mu.Lock()
	c.state, c.id, c.room = StateJoined, id, room
	c.mu.Unlock()
}

// leave moves to the terminal state and reports the previous one.
func (c *Conn) leave() (ConnState, domain.ParticipantID, domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = StateLeft
	return prev, c.id, c.room
}

type Router struct {
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *ViolationLimiter
	// OnEmptyRoom runs after a participant joined a room nobody else was in.
	OnEmptyRoom func(domain.RoomID)

	locks app.RoomLocks
}

func NewRouter(reg *app.Registry, policy app.Policy, limiter *ViolationLimiter) *Router {
	if policy == nil {
		policy = app.KickPolicy{}
	}
	return &Router{Registry: reg, Policy: policy, Limiter: limiter}
}

// Attach registers a fresh connection in the connecting state.
func (r *Router) Attach(signal core.SignalConnection, creds domain.Credentials) *Conn {
	c := &Conn{key: uuid.NewString(), signal: signal, creds: creds}
	log.Debug().Str("module", "orch").Str("conn", c.key).Int("credentials", len(creds)).Msg("connection attached")
	return c
}

// Handle processes one inbound frame. Frames of one connection must be
// handled sequentially.
func (r *Router) Handle(c *Conn, data []byte) {
	if c.State() == StateLeft {
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Str("module", "orch").Str("conn", c.key).Err(err).Msg("discarding malformed frame")
		return
	}
	switch msg.Type {
	case protocol.EventPing:
		r.reply(c, protocol.EventPong, nil)
	case protocol.EventJoinRoom:
		r.handleJoin(c, msg)
	case protocol.EventData:
		r.handleData(c, data, msg)
	case protocol.EventCodeUpdate:
		r.handleCodeUpdate(c, data, msg)
	default:
		r.violation(c, "unknown event "+string(msg.Type))
	}
}

// Detach removes the connection from its room and tells the others.
// It is idempotent.
func (r *Router) Detach(c *Conn) {
	prev, id, roomID := c.leave()
	if r.Limiter != nil {
		r.Limiter.Forget(c.key)
	}
	if prev != StateJoined {
		log.Debug().Str("module", "orch").Str("conn", c.key).Str("state", prev.String()).Msg("connection detached")
		return
	}
	unlock := r.locks.Lock(roomID)
	defer unlock()
	if _, _, ok := r.Registry.Leave(id); !ok {
		return
	}
	frame, err := protocol.Encode(protocol.EventPeerLeft, protocol.PeerLeft{ID: id})
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("encode peer_left")
		return
	}
	r.broadcast(roomID, id, frame)
}

// EvictRoom disconnects every member of roomID. Their adapters detach them.
func (r *Router) EvictRoom(roomID domain.RoomID) int {
	members := r.Registry.MembersOf(roomID)
	for _, m := range members {
		m.Signal.Close()
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Int("members", len(members)).Msg("room evicted")
	return len(members)
}

func (r *Router) violation(c *Conn, reason string) {
	logger := log.Warn().Str("module", "orch").Str("conn", c.key).Str("state", c.State().String())
	if id, _, ok := c.Participant(); ok {
		logger = logger.Str("participant", string(id))
	}
	logger.Str("reason", reason).Msg("protocol violation")
	if r.Limiter != nil && !r.Limiter.Allow(c.key) {
		log.Warn().Str("module", "orch").Str("conn", c.key).Msg("too many violations, disconnecting")
		c.signal.Close()
	}
}

func (r *Router) reply(c *Conn, t protocol.EventType, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("encode reply")
		return
	}
	if err := c.signal.TrySend(frame); err != nil {
		log.Debug().Str("module", "orch").Str("conn", c.key).Err(err).Msg("reply not delivered")
	}
}

// deliver enqueues frame for one member and applies the backpressure policy.
func (r *Router) deliver(roomID domain.RoomID, m core.Member, frame core.Frame) {
	err := m.Signal.TrySend(frame)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Str("module", "orch").Str("participant", string(m.Participant.ID)).Err(err).Msg("frame not delivered")
		return
	}
	r.onBackpressure(roomID, m)
}

func (r *Router) broadcast(roomID domain.RoomID, from domain.ParticipantID, frame core.Frame) {
	room, ok := r.Registry.Room(roomID)
	if !ok {
		return
	}
	res := room.Broadcast(from, frame)
	for _, slow := range res.Dropped {
		r.onBackpressure(roomID, slow)
	}
}

func (r *Router) onBackpressure(roomID domain.RoomID, slow core.Member) {
	switch r.Policy.OnBackPressure(roomID, slow) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(slow.Participant.ID)).Msg("outbound queue full, kicking")
		slow.Signal.Close()
	case app.DropFrame:
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(slow.Participant.ID)).Msg("outbound queue full, frame dropped")
	case app.NoAction:
	}
}
