package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/cipher"
	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// History stream markers.
const (
	HistoryStart = "--- Chat History ---"
	HistoryEnd   = "--- End of History ---"
)

// Router delivers messages to sessions held in the registry and records them
// in the chat log.
type Router struct {
	registry     *Registry
	chatLog      store.ChatLog
	transform    cipher.Transform
	historyDelay time.Duration
	logger       zerolog.Logger
}

// NewRouter creates a router. A nil transform sends user content in clear.
func NewRouter(registry *Registry, chatLog store.ChatLog, transform cipher.Transform, historyDelay time.Duration, logger zerolog.Logger) *Router {
	return &Router{
		registry:     registry,
		chatLog:      chatLog,
		transform:    transform,
		historyDelay: historyDelay,
		logger:       logger,
	}
}

// Broadcast sends a copy of msg to every authenticated session except
// exclude. Failed sends are logged and returned; they never stop delivery to
// the remaining recipients.
func (rt *Router) Broadcast(msg protocol.Message, exclude SlotID) []*DeliveryError {
	var failures []*DeliveryError
	for _, target := range rt.registry.Authenticated(exclude) {
		if err := target.Conn.WriteMessage(msg); err != nil {
			metrics.Deliveries.WithLabelValues("broadcast", "failed").Inc()
			derr := &DeliveryError{Slot: target.Slot, Username: target.Username, Err: err}
			rt.logger.Warn().Err(err).Int("slot", int(target.Slot)).Str("recipient", target.Username).Msg("broadcast delivery failed")
			failures = append(failures, derr)
			continue
		}
		metrics.Deliveries.WithLabelValues("broadcast", "ok").Inc()
	}
	return failures
}

// Announce broadcasts server-authored text to every authenticated session
// and records it in the chat log.
func (rt *Router) Announce(ctx context.Context, text string) {
	msg := protocol.NewServerMessage(protocol.TypeChat, text)
	rt.Broadcast(msg, NoSlot)
	rt.record(ctx, msg)
}

// Chat stamps a user message, broadcasts the sealed copy to everyone but the
// sender and logs the original text.
func (rt *Router) Chat(ctx context.Context, from SlotID, msg protocol.Message) {
	msg.Type = protocol.TypeChat
	msg.Recipient = ""
	msg.Timestamp = protocol.Now()
	msg.Content = rt.fit(msg.Content)

	rt.Broadcast(rt.seal(msg), from)
	rt.record(ctx, msg)
}

// SendPrivate delivers msg to the session logged in as msg.Recipient and
// confirms the outcome to reply. A message for an absent recipient is
// dropped. The returned error is a failure to write to reply itself.
func (rt *Router) SendPrivate(ctx context.Context, reply Conn, msg protocol.Message) error {
	msg.Type = protocol.TypePrivate
	msg.Timestamp = protocol.Now()
	msg.Content = rt.fit(msg.Content)

	target, found := rt.registry.FindByUsername(msg.Recipient)
	if !found {
		metrics.Deliveries.WithLabelValues("private", "failed").Inc()
		return reply.WriteMessage(protocol.NewServerMessage(protocol.TypeError,
			fmt.Sprintf("User %s not found or offline", msg.Recipient)))
	}

	if err := target.Conn.WriteMessage(rt.seal(msg)); err != nil {
		metrics.Deliveries.WithLabelValues("private", "failed").Inc()
		rt.logger.Warn().Err(err).Int("slot", int(target.Slot)).Str("recipient", target.Username).Msg("private delivery failed")
		return reply.WriteMessage(protocol.NewServerMessage(protocol.TypeError,
			fmt.Sprintf("Could not deliver private message to %s", msg.Recipient)))
	}
	metrics.Deliveries.WithLabelValues("private", "ok").Inc()
	rt.record(ctx, msg)

	return reply.WriteMessage(protocol.NewServerMessage(protocol.TypeSuccess,
		fmt.Sprintf("Private message sent to %s", msg.Recipient)))
}

// StreamHistory sends the chat log to conn framed by start and end markers,
// pausing historyDelay between lines. An unreadable log yields one ERROR frame.
func (rt *Router) StreamHistory(ctx context.Context, conn Conn) error {
	lines, err := rt.readLog(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("read chat log")
		return conn.WriteMessage(protocol.NewServerMessage(protocol.TypeError, "Chat history not available"))
	}

	if err := conn.WriteMessage(protocol.NewServerMessage(protocol.TypeHistory, HistoryStart)); err != nil {
		return err
	}
	for _, line := range lines {
		if len(line) >= protocol.ContentWidth {
			// the frame slot cuts it; the stored line stays whole
			rt.logger.Debug().Int("bytes", len(line)).Msg("history line truncated to fit frame")
		}
		if err := conn.WriteMessage(protocol.NewServerMessage(protocol.TypeHistory, line)); err != nil {
			return err
		}
		if err := rt.pause(ctx); err != nil {
			return err
		}
	}
	return conn.WriteMessage(protocol.NewServerMessage(protocol.TypeHistory, HistoryEnd))
}

func (rt *Router) pause(ctx context.Context) error {
	if rt.historyDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(rt.historyDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fit cuts user content to what reaches the recipient, so the chat log
// records exactly the delivered text.
func (rt *Router) fit(content string) string {
	if rt.transform == nil {
		return protocol.Clip(content, protocol.ContentWidth-1)
	}
	return cipher.Fit(content)
}

// seal applies the content transform. Only user-authored messages pass
// through it; Announce sends its own text untouched.
func (rt *Router) seal(msg protocol.Message) protocol.Message {
	if rt.transform == nil {
		return msg
	}
	msg.Content = cipher.Seal(rt.transform, msg.Content)
	return msg
}

func (rt *Router) record(ctx context.Context, msg protocol.Message) {
	start := time.Now()
	err := rt.chatLog.Append(ctx, store.EntryFromMessage(msg))
	metrics.StoreLatency.WithLabelValues("log_append").Observe(time.Since(start).Seconds())
	if err != nil {
		rt.logger.Error().Err(err).Str("sender", msg.Sender).Msg("append chat log")
	}
}

func (rt *Router) readLog(ctx context.Context) ([]string, error) {
	start := time.Now()
	lines, err := rt.chatLog.ReadAll(ctx)
	metrics.StoreLatency.WithLabelValues("log_read").Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, store.ErrHistoryUnavailable) {
		err = fmt.Errorf("%w: %v", store.ErrHistoryUnavailable, err)
	}
	return lines, err
}
