package server

import (
	"errors"
	"net/http"
	"time"
)

// ListenAndServeHTTP serves Routes on the configured HTTP address. It returns
// nil immediately when the side-listener is disabled, and nil after Shutdown.
func (s *Server) ListenAndServeHTTP() error {
	if s.cfg.HTTPAddr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", srv.Addr).Msg("http side-listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
