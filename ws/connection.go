package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pairpad/server/logger"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/session"
)

// connection is one editor websocket joined to a session. The session actor
// hands it frames through Deliver; a dedicated goroutine writes them.
type connection struct {
	id           string
	user         string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	log          *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id, user string, conn *websocket.Conn, queue int, writeTimeout time.Duration, log *slog.Logger) *connection {
	return &connection{
		id:           id,
		user:         user,
		conn:         conn,
		send:         make(chan []byte, queue),
		writeTimeout: writeTimeout,
		log:          log,
		closed:       make(chan struct{}),
	}
}

func (c *connection) ID() string   { return c.id }
func (c *connection) User() string { return c.user }

// Deliver never blocks the caller. A client that falls a full queue behind is
// disconnected; it will resynchronize from FullState when it reconnects.
func (c *connection) Deliver(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, closing connection", "queued", len(c.send))
		go c.close(protocol.StatusSlowConsumer, "slow consumer")
		return false
	}
}

func (c *connection) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close(status, reason)
	})
}

func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.log.Debug("write failed", "error", err)
				c.close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop feeds decoded frames to the actor until the client goes away.
// Frames that fail to decode are dropped without closing the connection.
func (c *connection) readLoop(ctx context.Context, actor *session.Actor) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.log.Debug("read error", "error", err)
			}
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			c.log.Debug("dropping frame", "error", err, "frame", logger.Truncate(string(data), 80))
			continue
		}

		if err := actor.Submit(ctx, c.id, ev); err != nil {
			c.log.Debug("submit failed", "error", err)
			return
		}
	}
}
