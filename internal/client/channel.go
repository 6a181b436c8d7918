package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	channelQueue = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 20 * time.Second
)

// Channel is the client end of the signaling WebSocket. Send never blocks.
type Channel struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Dial opens the signaling channel; jar carries the checkpoint session.
func Dial(ctx context.Context, url string, jar http.CookieJar) (*Channel, error) {
	dialer := websocket.Dialer{Jar: jar, HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Channel{
		conn: ws,
		send: make(chan []byte, channelQueue),
		done: make(chan struct{}),
	}, nil
}

func (c *Channel) Send(t protocol.EventType, payload any) error {
	raw, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Run pumps frames until ctx ends or the server goes away. Every inbound
// frame is passed to handle in arrival order; handle is never called after
// Run returns.
func (c *Channel) Run(ctx context.Context, handle func(protocol.Message)) error {
	go c.writePump(ctx)
	defer c.Close()

	errc := make(chan error, 1)
	go func() {
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				log.Warn().Str("module", "client.channel").Err(err).Msg("discarding frame")
				continue
			}
			handle(msg)
		}
	}()

	select {
	case <-ctx.Done():
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.Close()
		<-errc
		return ctx.Err()
	case err := <-errc:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil
		}
		return fmt.Errorf("signaling channel: %w", err)
	}
}

func (c *Channel) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Str("module", "client.channel").Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.Send(protocol.EventPing, nil); err != nil {
				log.Debug().Str("module", "client.channel").Err(err).Msg("ping not queued")
			}
		}
	}
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
}
