package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// SessionState is the position of a connection in its lifecycle.
type SessionState int

// Session states. Closed is terminal.
const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Response texts sent to clients.
const (
	msgRegistered       = "Registration successful"
	msgUserExists       = "Username already exists"
	msgRegisterFailed   = "Registration failed"
	msgLoggedIn         = "Login successful"
	msgBadCredentials   = "Invalid username or password"
	msgLoginFailed      = "Login failed, try again later"
	msgAlreadyLoggedIn  = "Already logged in"
	msgMustLoginSend    = "You must be logged in to send messages"
	msgMustLoginHistory = "You must be logged in to view history"
	msgRateLimited      = "Rate limit exceeded, message discarded"
	msgUnsupportedType  = "Unsupported message type"
)

// session is the state machine driving one connection. It is only touched by
// the goroutine running it.
type session struct {
	slot     SlotID
	conn     Conn
	srv      *Server
	state    SessionState
	username string
	limiter  *rateLimiter
	logger   zerolog.Logger
}

func newSession(srv *Server, slot SlotID, conn Conn, logger zerolog.Logger) *session {
	return &session{
		slot:    slot,
		conn:    conn,
		srv:     srv,
		state:   StateUnauthenticated,
		limiter: newRateLimiter(srv.cfg.RateLimit),
		logger:  logger,
	}
}

// run reads and dispatches frames until the session reaches StateClosed,
// then releases its slot.
func (s *session) run(ctx context.Context) {
	defer s.release()

	for s.state != StateClosed {
		msg, err := s.conn.ReadMessage(ctx)
		if err != nil {
			s.handleReadError(err)
			s.disconnect(ctx)
			return
		}

		metrics.FramesReceived.WithLabelValues(msg.Type.String()).Inc()

		if !s.limiter.allow() {
			metrics.RateLimitHits.Inc()
			s.logger.Warn().
				Int("burst", s.limiter.cfg.Burst).
				Dur("interval", s.limiter.cfg.RefillInterval).
				Str("type", msg.Type.String()).
				Msg("rate limit exceeded; discarding frame")
			if err := s.reply(protocol.TypeError, msgRateLimited); err != nil {
				s.handleWriteError(err)
				s.disconnect(ctx)
				return
			}
			continue
		}

		if err := s.dispatch(ctx, msg); err != nil {
			s.handleWriteError(err)
			s.disconnect(ctx)
			return
		}
	}
}

// dispatch handles one inbound frame. A returned error is a failed write to
// this session's own connection and is fatal to it.
func (s *session) dispatch(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeRegister:
		return s.handleRegister(ctx, msg)
	case protocol.TypeLogin:
		return s.handleLogin(ctx, msg)
	case protocol.TypeChat:
		if s.state != StateAuthenticated {
			return s.reply(protocol.TypeError, msgMustLoginSend)
		}
		msg.Sender = s.username
		s.srv.router.Chat(ctx, s.slot, msg)
		return nil
	case protocol.TypePrivate:
		if s.state != StateAuthenticated {
			return s.reply(protocol.TypeError, msgMustLoginSend)
		}
		msg.Sender = s.username
		return s.srv.router.SendPrivate(ctx, s.conn, msg)
	case protocol.TypeHistory:
		if s.state != StateAuthenticated {
			return s.reply(protocol.TypeError, msgMustLoginHistory)
		}
		return s.srv.router.StreamHistory(ctx, s.conn)
	case protocol.TypeLogout:
		s.logout(ctx)
		return nil
	}

	s.logger.Debug().Str("type", msg.Type.String()).Bool("known", msg.Type.Valid()).Msg("unsupported frame type")
	return s.reply(protocol.TypeError, msgUnsupportedType)
}

func (s *session) handleRegister(ctx context.Context, msg protocol.Message) error {
	start := time.Now()
	err := s.srv.credentials.Register(ctx, msg.Sender, msg.Content)
	metrics.StoreLatency.WithLabelValues("register").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.logger.Info().Str("username", msg.Sender).Msg("user registered")
		return s.reply(protocol.TypeSuccess, msgRegistered)
	case errors.Is(err, store.ErrUserExists):
		metrics.AuthFailures.WithLabelValues("register").Inc()
		return s.reply(protocol.TypeError, msgUserExists)
	case errors.Is(err, store.ErrInvalidUsername), errors.Is(err, store.ErrInvalidPassword):
		metrics.AuthFailures.WithLabelValues("register").Inc()
		return s.reply(protocol.TypeError, capitalize(err.Error()))
	}

	s.logger.Error().Err(err).Str("username", msg.Sender).Msg("register user")
	return s.reply(protocol.TypeError, msgRegisterFailed)
}

func (s *session) handleLogin(ctx context.Context, msg protocol.Message) error {
	if s.state == StateAuthenticated {
		return s.reply(protocol.TypeError, msgAlreadyLoggedIn)
	}

	start := time.Now()
	ok, err := s.srv.credentials.Authenticate(ctx, msg.Sender, msg.Content)
	metrics.StoreLatency.WithLabelValues("authenticate").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Str("username", msg.Sender).Msg("authenticate user")
		return s.reply(protocol.TypeError, msgLoginFailed)
	}
	if !ok {
		metrics.AuthFailures.WithLabelValues("login").Inc()
		s.logger.Info().Str("username", msg.Sender).Msg("login rejected")
		return s.reply(protocol.TypeError, msgBadCredentials)
	}

	if err := s.srv.registry.Authenticate(s.slot, msg.Sender); err != nil {
		return err
	}
	s.state = StateAuthenticated
	s.username = msg.Sender
	s.logger = s.logger.With().Str("user", s.username).Logger()
	s.logger.Info().Msg("user logged in")

	if err := s.reply(protocol.TypeSuccess, msgLoggedIn); err != nil {
		return err
	}
	s.srv.router.Announce(ctx, fmt.Sprintf("%s has joined the chat", s.username))
	return nil
}

// logout ends the session at the client's request.
func (s *session) logout(ctx context.Context) {
	if s.state == StateAuthenticated {
		s.leave(ctx, "%s has left the chat")
		s.logger.Info().Msg("user logged out")
	}
	s.state = StateClosed
}

// disconnect ends the session after a read or write failure. During server
// shutdown nobody is told.
func (s *session) disconnect(ctx context.Context) {
	if s.state == StateAuthenticated && ctx.Err() == nil {
		s.leave(ctx, "%s has disconnected")
	}
	s.state = StateClosed
}

// leave takes the session out of fan-out before announcing its departure.
func (s *session) leave(ctx context.Context, format string) {
	name, ok := s.srv.registry.Deauthenticate(s.slot)
	if !ok {
		name = s.username
	}
	s.state = StateUnauthenticated
	s.srv.router.Announce(ctx, fmt.Sprintf(format, name))
}

func (s *session) release() {
	s.state = StateClosed
	if s.srv.registry.Release(s.slot) {
		s.logger.Info().Msg("connection closed")
	}
}

func (s *session) reply(t protocol.Type, content string) error {
	return s.conn.WriteMessage(protocol.NewServerMessage(t, content))
}

// handleReadError logs a read failure at a level matching its cause.
func (s *session) handleReadError(err error) {
	switch {
	case errors.Is(err, context.Canceled):
		s.logger.Debug().Msg("session stopped by shutdown")
	case errors.Is(err, io.EOF):
		s.logger.Info().Msg("client disconnected")
	case isProtocolError(err):
		s.logger.Warn().Err(err).Msg("protocol violation")
	case isExpectedCloseError(err):
		s.logger.Debug().Err(err).Msg("connection closed")
	default:
		s.logger.Warn().Err(err).Msg("read failed")
	}
}

func (s *session) handleWriteError(err error) {
	if isExpectedCloseError(err) {
		s.logger.Debug().Err(err).Msg("write to closed connection")
		return
	}
	s.logger.Warn().Err(err).Msg("write failed")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
