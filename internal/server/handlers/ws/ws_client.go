package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/google/uuid"
)

const (
	writeTimeout   = 10 * time.Second
	sendBufferSize = 64
	shutdownReason = "shutdown"
)

// WebsocketClient is one subscriber of the change feed. It only ever writes;
// anything the peer sends is discarded.
type WebsocketClient struct {
	ConnID string
	User   string
	IPAddr string

	conn      *websocket.Conn
	tx        chan *boxapi.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebsocketClient(conn *websocket.Conn, user, ipAddr string) *WebsocketClient {
	return &WebsocketClient{
		ConnID: uuid.NewString()[:8],
		User:   user,
		IPAddr: ipAddr,
		conn:   conn,
		tx:     make(chan *boxapi.ChangeEvent, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Send queues ev without blocking and reports false if the buffer is full.
func (c *WebsocketClient) Send(ev *boxapi.ChangeEvent) bool {
	select {
	case <-c.done:
		return false
	case c.tx <- ev:
		return true
	default:
		return false
	}
}

// Close ends the write loop and closes the connection.
func (c *WebsocketClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// run writes queued events until the peer goes away or Close is called.
func (c *WebsocketClient) run(ctx context.Context) {
	// CloseRead keeps reading control frames and cancels readCtx when the
	// peer disconnects
	readCtx := c.conn.CloseRead(ctx)

	defer func() {
		c.Close()
		c.conn.Close(websocket.StatusNormalClosure, shutdownReason)
		slog.Debug("wsclient closed", "connId", c.ConnID)
	}()

	for {
		select {
		case ev := <-c.tx:
			wctx, cancel := context.WithTimeout(readCtx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				slog.Warn("wsclient writer", "connId", c.ConnID, "error", err)
				return
			}

		case <-readCtx.Done():
			return

		case <-c.done:
			return
		}
	}
}
