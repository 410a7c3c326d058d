package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gobox/gobox/internal/boxapi"
	boxsync "github.com/gobox/gobox/internal/client/sync"
)

const (
	eventsBufferSize        = 16
	eventsReconnectDelay    = 1 * time.Second
	eventsMaxReconnectDelay = 8 * time.Second
	eventsDialTimeout       = 10 * time.Second
	eventsMaxMessageSize    = 4 * 1024
)

// Subscribe streams the global timestamp of every server side mutation. The
// first dial must succeed; later disconnects are retried with backoff until
// ctx is done, at which point the channel is closed.
func (r *HTTPRemote) Subscribe(ctx context.Context) (<-chan boxsync.Timestamp, error) {
	conn, err := r.events.dial(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan boxsync.Timestamp, eventsBufferSize)
	go r.events.run(ctx, conn, out)
	return out, nil
}

func (r *HTTPRemote) eventsURL() string {
	return toWebsocketURL(r.baseURL + boxapi.PathEvents)
}

func (r *HTTPRemote) authHeader() http.Header {
	header := http.Header{}
	header.Set(boxapi.HeaderUserAgent, UserAgent)
	if r.config.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(r.config.Username + ":" + r.config.Password))
		header.Set("Authorization", "Basic "+creds)
	}
	return header
}

type eventsFeed struct {
	url    string
	header http.Header
}

func newEventsFeed(url string, header http.Header) *eventsFeed {
	return &eventsFeed{url: url, header: header}
}

func (e *eventsFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, eventsDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.url, &websocket.DialOptions{
		HTTPHeader: e.header.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("remote: events: failed to connect to %s: %w", e.url, err)
	}
	conn.SetReadLimit(eventsMaxMessageSize)
	slog.Debug("events connected", "url", e.url)
	return conn, nil
}

func (e *eventsFeed) run(ctx context.Context, conn *websocket.Conn, out chan<- boxsync.Timestamp) {
	defer close(out)

	for {
		err := e.consume(ctx, conn, out)
		conn.CloseNow()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("events disconnected, will reconnect", "error", err)

		conn = e.reconnectWithBackoff(ctx)
		if conn == nil {
			return
		}
	}
}

// consume reads events until the connection fails.
func (e *eventsFeed) consume(ctx context.Context, conn *websocket.Conn, out chan<- boxsync.Timestamp) error {
	for {
		var ev boxapi.ChangeEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}

		slog.Debug("events rx", "timestamp", ev.Timestamp, "path", ev.Path)
		select {
		case out <- boxsync.Timestamp(ev.Timestamp):
		case <-ctx.Done():
			return ctx.Err()
		default:
			// a sync is already pending, it will see this change too
			slog.Debug("events rx buffer full, dropped", "timestamp", ev.Timestamp)
		}
	}
}

// reconnectWithBackoff returns nil once ctx is done.
func (e *eventsFeed) reconnectWithBackoff(ctx context.Context) *websocket.Conn {
	delay := eventsReconnectDelay

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		slog.Info("events attempting reconnection", "attempt", attempt, "delay", delay)
		conn, err := e.dial(ctx)
		if err == nil {
			return conn
		}

		// Add some jitter to the delay
		delay = min(delay*2, eventsMaxReconnectDelay)
		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay = time.Duration(float64(delay) * jitterFactor)
	}
}

// toWebsocketURL converts an HTTP URL to a WebSocket URL
func toWebsocketURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + url[8:]
	} else if strings.HasPrefix(url, "http://") {
		return "ws://" + url[7:]
	}
	return url
}
