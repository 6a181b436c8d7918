package orch

import (
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (r *Router) handleJoin(c *Conn, msg protocol.Message) {
	if c.State() != StateConnecting {
		r.violation(c, "join_room while "+c.State().String())
		return
	}
	var req protocol.JoinRoom
	if err := msg.Bind(&req); err != nil {
		log.Warn().Str("module", "orch").Str("conn", c.key).Err(err).Msg("discarding join_room")
		return
	}
	if err := domain.ValidateRoomID(req.RoomID); err != nil {
		r.reply(c, protocol.EventError, protocol.ErrorPayload{Error: err.Error()})
		return
	}
	profile, ok := c.creds.For(req.RoomID)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", c.key).Str("room", string(req.RoomID)).Msg("join without checkpoint credential")
		r.reply(c, protocol.EventError, protocol.ErrorPayload{Error: "no credential for room " + string(req.RoomID)})
		return
	}

	unlock := r.locks.Lock(req.RoomID)
	p, wasEmpty := r.Registry.Join(req.RoomID, profile.DisplayName, c.signal)
	c.join(p.ID, req.RoomID)

	// Existing members hear of the newcomer before it can offer to them.
	frame, err := protocol.Encode(protocol.EventPeerJoined, protocol.PeerJoined{ID: p.ID, DisplayName: p.DisplayName})
	if err == nil {
		r.broadcast(req.RoomID, p.ID, frame)
	} else {
		log.Error().Str("module", "orch").Err(err).Msg("encode peer_joined")
	}
	snapshot := protocol.NewSnapshot(p.ID, r.Registry.PeersOf(req.RoomID, p.ID))
	r.reply(c, protocol.EventPeerList, snapshot)
	unlock()

	log.Info().Str("module", "orch").Str("conn", c.key).Str("participant", string(p.ID)).Str("room", string(req.RoomID)).Int("peers", len(snapshot.Peers)).Msg("participant joined")
	if wasEmpty && r.OnEmptyRoom != nil {
		r.OnEmptyRoom(req.RoomID)
	}
}
