package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/handlers/api"
)

const maxMessageSize = 4 * 1024

// TimestampFunc returns the current global timestamp, sent to every client
// as soon as it connects.
type TimestampFunc func(ctx context.Context) (int64, error)

// WebsocketHub fans change events out to every connected client.
type WebsocketHub struct {
	current TimestampFunc

	mu       sync.RWMutex
	clients  map[string]*WebsocketClient
	shutdown bool
	wg       sync.WaitGroup
}

func NewHub(current TimestampFunc) *WebsocketHub {
	return &WebsocketHub{
		current: current,
		clients: make(map[string]*WebsocketClient),
	}
}

// Clients is the number of connected clients.
func (h *WebsocketHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for all clients. A client with a full buffer misses it.
func (h *WebsocketHub) Broadcast(ev *boxapi.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.Send(ev) {
			slog.Warn("wshub send buffer full", "connId", client.ConnID, "user", client.User)
		}
	}
}

// Shutdown closes every client and waits for their loops to end.
func (h *WebsocketHub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.shutdown = true
	for _, client := range h.clients {
		client.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("wshub shutdown timeout")
	}
	slog.Info("wshub shutdown")
}

// WebsocketHandler upgrades the request and serves the client until it
// disconnects.
func (h *WebsocketHub) WebsocketHandler(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidRequest, fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := NewWebsocketClient(conn, ctx.GetString("user"), ctx.ClientIP())
	if !h.register(client) {
		conn.Close(websocket.StatusGoingAway, shutdownReason)
		return
	}
	defer h.unregister(client)

	ts, err := h.current(ctx.Request.Context())
	if err != nil {
		slog.Error("wshub current timestamp", "error", err)
		conn.Close(websocket.StatusInternalError, "timestamp unavailable")
		return
	}
	client.Send(&boxapi.ChangeEvent{Timestamp: ts})

	client.run(context.Background())
}

func (h *WebsocketHub) register(client *WebsocketClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[client.ConnID] = client
	h.wg.Add(1)
	slog.Debug("wshub registered", "connId", client.ConnID, "user", client.User, "active", len(h.clients))
	return true
}

func (h *WebsocketHub) unregister(client *WebsocketClient) {
	h.mu.Lock()
	delete(h.clients, client.ConnID)
	active := len(h.clients)
	h.mu.Unlock()
	h.wg.Done()
	slog.Debug("wshub removed", "connId", client.ConnID, "user", client.User, "active", active)
}
