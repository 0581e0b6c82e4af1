package server

import (
	"fmt"
	"net/http"
	"strings"
)

// WebSocketHandler upgrades the request and attaches the connection to the
// registry. Each binary message carries exactly one frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.Attach(NewWebSocketConn(conn, r.RemoteAddr, s.cfg.WriteTimeout))
}

// HealthHandler reports that the server is up and how full the registry is.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatrelay server is running! sessions=%d/%d\n",
		s.registry.Occupied(), s.registry.Capacity())
}

// UsersHandler lists the logged-in users, one per line.
func (s *Server) UsersHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	names := s.registry.Usernames()
	if len(names) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, strings.Join(names, "\n"))
}
