// Package signal serves the signaling channel over WebSocket.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Interview/internal/app/orch"
	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultReadLimit  = 64 * 1024
	defaultPingPeriod = 30 * time.Second
	defaultSendQueue  = 32
	writeWait         = 5 * time.Second
)

type SignalWSController struct {
	Router     *orch.Router
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
}

func NewSignalWSController(router *orch.Router) *SignalWSController {
	return &SignalWSController{
		Router:     router,
		ReadLimit:  defaultReadLimit,
		PingPeriod: defaultPingPeriod,
		SendQueue:  defaultSendQueue,
	}
}

// WsSignalConn is a core.SignalConnection with a bounded outbound queue
// drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the pumps until either side
// goes away. creds is the checkpoint credential carried by the request.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, creds domain.Credentials) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit())

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendQueue()),
	}
	rc := ctl.Router.Attach(conn, creds)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, rc, conn)
}

func (ctl *SignalWSController) readLimit() int64 {
	if ctl.ReadLimit <= 0 {
		return defaultReadLimit
	}
	return ctl.ReadLimit
}

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return defaultPingPeriod
	}
	return ctl.PingPeriod
}

func (ctl *SignalWSController) sendQueue() int {
	if ctl.SendQueue <= 0 {
		return defaultSendQueue
	}
	return ctl.SendQueue
}
