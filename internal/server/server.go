// Package server exposes the chat service over HTTP and streams completions
// as server-sent events.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/events"
)

type Server struct {
	cfg    config.ServerConfig
	svc    *chat.Service
	bus    *events.Bus
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New wires the routes. bus may be nil when events are disabled.
func New(cfg config.ServerConfig, svc *chat.Service, bus *events.Bus, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		bus:    bus,
		logger: logger.With().Str("component", "server").Logger(),
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /conversations/{$}", s.handleListConversations)
	s.mux.HandleFunc("GET /messages/{conversationId}", s.handleListMessages)
	s.mux.HandleFunc("POST /chat/send", s.handleSend)
	s.mux.HandleFunc("GET /chat/completions", s.handleCompletions)
	s.mux.HandleFunc("POST /chat/completions", s.handleCompletions)
}

// Handler returns the routes mounted under the configured base path, wrapped
// with request logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if prefix := strings.TrimRight(s.cfg.BasePath, "/"); prefix != "" {
		// ServeMux does not strip prefixes.
		root := http.NewServeMux()
		root.Handle(prefix+"/", http.StripPrefix(prefix, s.mux))
		h = root
	}
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	return hlog.NewHandler(s.logger)(h)
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully. The audit consumer runs alongside when a bus is set.
func (s *Server) Run(ctx context.Context) error {
	srv := s.httpServer()
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg := errgroup.Group{}

	if s.bus != nil {
		eg.Go(func() error { return s.bus.RunAudit(srvCtx) })
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			s.logger.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return errors.Wrap(err, "shutdown")
		}
		s.logger.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.cfg.Addr).Str("base_path", s.cfg.BasePath).Msg("starting chat relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server listen error")
			srvCancel()
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	return eg.Wait()
}
