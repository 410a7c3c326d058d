package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/handlers/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server is the development file server the sync client talks to.
type Server struct {
	config *Config
	svc    *Services
	hub    *ws.WebsocketHub
	server *http.Server
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	svc, err := NewServices(config)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(svc.Blob.Index().Timestamp)
	svc.Blob.OnChange(func(key string, ts int64) {
		hub.Broadcast(&boxapi.ChangeEvent{Timestamp: ts, Path: key})
	})

	return &Server{
		config: config,
		svc:    svc,
		hub:    hub,
		server: &http.Server{
			Addr:              config.Http.Addr,
			Handler:           SetupRoutes(config, svc, hub),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Services() *Services {
	return s.svc
}

// Start serves until ctx is canceled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("gobox server start", "addr", ln.Addr().String(), "dataDir", s.config.DataDir, "inMemory", s.config.InMemory)
	defer slog.Info("gobox server stop")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := s.runHttpServer(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		return s.Stop(context.Background())
	})

	return eg.Wait()
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.hub.Shutdown(shutdownCtx)

	err := s.server.Shutdown(shutdownCtx)
	if cerr := s.svc.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Server) runHttpServer(ln net.Listener) error {
	if s.config.Http.CertFile != "" && s.config.Http.KeyFile != "" {
		slog.Info("server start tls", "addr", ln.Addr().String(), "cert", s.config.Http.CertFile, "key", s.config.Http.KeyFile)
		return s.server.ServeTLS(ln, s.config.Http.CertFile, s.config.Http.KeyFile)
	}
	slog.Info("server start http", "addr", ln.Addr().String())
	return s.server.Serve(ln)
}
