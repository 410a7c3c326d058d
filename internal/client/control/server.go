package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

var ErrServerClosed = errors.New("control server closed")

// Request is a parsed command waiting for the coordinator's reply.
type Request struct {
	Command Command
	reply   chan Response
}

// NewRequest is used by callers that feed commands without a connection.
func NewRequest(cmd Command) *Request {
	return &Request{Command: cmd, reply: make(chan Response, 1)}
}

// Reply sends the response back to the client. Only the first call counts.
func (r *Request) Reply(resp Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Wait blocks until Reply is called or ctx ends.
func (r *Request) Wait(ctx context.Context) (Response, error) {
	select {
	case resp := <-r.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Server accepts control connections and funnels every valid command into a
// single channel, so commands are handled one at a time by one consumer.
type Server struct {
	listener net.Listener
	requests chan *Request

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Listen binds the control address, e.g. "127.0.0.1:7938".
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control listen %s: %w", addr, err)
	}
	return NewServer(ln), nil
}

func NewServer(ln net.Listener) *Server {
	return &Server{
		listener: ln,
		requests: make(chan *Request),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Requests delivers commands in arrival order.
func (s *Server) Requests() <-chan *Request {
	return s.requests
}

// Serve accepts connections until StopAccepting or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("control server start", "addr", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// StopAccepting closes the listener. Open connections keep working.
func (s *Server) StopAccepting() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("control listener close", "error", err)
	}
}

// Close stops accepting, unblocks every reader and waits for them. A reply
// that was already handed to a connection is still written.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.StopAccepting()
	s.wg.Wait()
	slog.Info("control server stopped")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	slog.Debug("control connection open", "remote", remote)

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Debug("control connection closed", "remote", remote)
			case errors.Is(err, ErrFrameTooLarge):
				// the stream can not be resynchronized after an oversized header
				slog.Warn("control frame rejected", "remote", remote, "error", err)
				WriteJSON(conn, Error(err))
			default:
				select {
				case <-s.done:
				default:
					slog.Warn("control read", "remote", remote, "error", err)
				}
			}
			return
		}

		cmd, err := ParseCommand(payload)
		if err != nil {
			slog.Warn("control command rejected", "remote", remote, "error", err)
			if err := WriteJSON(conn, Error(err)); err != nil {
				return
			}
			continue
		}

		req := NewRequest(cmd)
		select {
		case s.requests <- req:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}

		resp, ok := s.awaitReply(ctx, req)
		if !ok {
			return
		}

		if err := WriteJSON(conn, resp); err != nil {
			slog.Warn("control write", "remote", remote, "error", err)
			return
		}
	}
}

func (s *Server) awaitReply(ctx context.Context, req *Request) (Response, bool) {
	select {
	case resp := <-req.reply:
		return resp, true
	case <-s.done:
	case <-ctx.Done():
	}
	// the reply may have raced with shutdown
	select {
	case resp := <-req.reply:
		return resp, true
	default:
		return Response{}, false
	}
}
