package orch

import (
	"encoding/json"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleData forwards an envelope to its target verbatim. The router reads
// only the addressing.
func (r *Router) handleData(c *Conn, raw []byte, msg protocol.Message) {
	id, roomID, ok := c.Participant()
	if !ok {
		r.violation(c, "data before join")
		return
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		log.Warn().Str("module", "orch").Str("participant", string(id)).Err(err).Msg("discarding malformed envelope")
		return
	}
	if env.Sender != id {
		r.violation(c, "envelope sender "+string(env.Sender)+" is not the connection")
		return
	}
	target, ok := r.Registry.Lookup(env.Target)
	if !ok || target.Participant.Room != roomID {
		log.Debug().Str("module", "orch").Str("participant", string(id)).Str("target", string(env.Target)).Msg("target not in room, dropping envelope")
		return
	}
	r.deliver(roomID, target, core.Frame(raw))
	log.Debug().Str("module", "orch").Str("from", string(id)).Str("to", string(env.Target)).Str("kind", string(env.Signal.Kind())).Msg("envelope forwarded")
}

// handleCodeUpdate shares the editor contents with the rest of the room.
func (r *Router) handleCodeUpdate(c *Conn, raw []byte, msg protocol.Message) {
	id, roomID, ok := c.Participant()
	if !ok {
		r.violation(c, "code_update before join")
		return
	}
	var update protocol.CodeUpdate
	if err := msg.Bind(&update); err != nil {
		log.Warn().Str("module", "orch").Str("participant", string(id)).Err(err).Msg("discarding code_update")
		return
	}
	unlock := r.locks.Lock(roomID)
	defer unlock()
	r.broadcast(roomID, id, core.Frame(raw))
}
