package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/cipher"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// Server owns the registry and accepts connections from every transport.
type Server struct {
	cfg         config.Config
	logger      zerolog.Logger
	registry    *Registry
	router      *Router
	credentials store.CredentialStore
	origins     *originPolicy
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	httpSrv   *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithTransform replaces the content transform applied to user payloads.
// Passing nil disables it.
func WithTransform(t cipher.Transform) Option {
	return func(s *Server) {
		s.router.transform = t
	}
}

// New creates a server around the given persistence collaborators.
func New(cfg config.Config, credentials store.CredentialStore, chatLog store.ChatLog, logger zerolog.Logger, opts ...Option) *Server {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(cfg.MaxClients)
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		router:      NewRouter(registry, chatLog, cipher.Default, cfg.HistorySendDelay, logger),
		credentials: credentials,
		origins:     newOriginPolicy(cfg.AllowedOrigins, logger),
		ctx:         ctx,
		cancel:      cancel,
		listeners:   make(map[net.Listener]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe listens on the configured TCP address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. It never blocks on client I/O: each
// accepted connection gets its own goroutine. It returns ErrServerClosed
// after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info().Str("addr", ln.Addr().String()).Int("capacity", s.registry.Capacity()).Msg("accepting tcp connections")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.Attach(NewTCPConn(conn, s.cfg.ReadPollInterval, s.cfg.WriteTimeout))
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Attach hands a new connection to the registry and starts its session. When
// the registry is full the connection is closed at once and false is returned.
func (s *Server) Attach(conn Conn) bool {
	logger := s.logger.With().
		Str("conn_id", uuid.NewString()).
		Str("transport", conn.Transport()).
		Str("remote_addr", conn.RemoteAddr()).
		Logger()

	// s.mu orders wg.Add before the wait in Shutdown
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}

	slot, err := s.registry.Acquire(conn)
	if err != nil {
		s.mu.Unlock()
		metrics.ConnectionsRejected.WithLabelValues(conn.Transport()).Inc()
		logger.Warn().Err(err).Msg("server full, rejecting client")
		_ = conn.Close()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.ConnectionsAccepted.WithLabelValues(conn.Transport()).Inc()

	logger = logger.With().Int("slot", int(slot)).Logger()
	logger.Info().Msg("new connection")

	sess := newSession(s, slot, conn, logger)
	go func() {
		defer s.wg.Done()
		sess.run(s.ctx)
	}()
	return true
}

// Shutdown stops accepting, closes every connection and waits for the
// sessions to release their slots, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("initiating server shutdown")

	s.mu.Lock()
	s.cancel()
	for ln := range s.listeners {
		_ = ln.Close()
	}
	httpSrv := s.httpSrv
	s.mu.Unlock()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("http shutdown")
		}
	}

	closed := s.registry.CloseAll()
	s.logger.Info().Int("connections", closed).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("server shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}
