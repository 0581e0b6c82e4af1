// Package store provides the persistence collaborators of the relay: the
// credential store consulted at REGISTER/LOGIN and the append-only chat log.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("username already exists")
	// ErrInvalidUsername is returned for usernames that cannot be stored unambiguously.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned for passwords that cannot be stored.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrHistoryUnavailable is returned when the chat log cannot be read.
	ErrHistoryUnavailable = errors.New("chat history not available")
)

// CredentialStore persists and verifies username/password pairs.
type CredentialStore interface {
	// Authenticate reports whether the pair matches a stored record exactly.
	Authenticate(ctx context.Context, username, password string) (bool, error)
	// Register stores a new pair. It returns ErrUserExists if the name is taken.
	Register(ctx context.Context, username, password string) error
}

// ChatLog is the append-only record of delivered messages.
type ChatLog interface {
	Append(ctx context.Context, e Entry) error
	// ReadAll returns every stored line in append order.
	ReadAll(ctx context.Context) ([]string, error)
}

// Entry is one chat log record.
type Entry struct {
	Timestamp string
	Sender    string
	Recipient string
	Content   string
	Private   bool
}

// EntryFromMessage builds the log entry for a delivered message.
func EntryFromMessage(m protocol.Message) Entry {
	return Entry{
		Timestamp: m.Timestamp,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		Private:   m.Type == protocol.TypePrivate,
	}
}

// String renders the entry as a single log line.
func (e Entry) String() string {
	content := flatten(e.Content)
	if e.Private {
		return fmt.Sprintf("[%s] %s -> %s: %s", e.Timestamp, e.Sender, e.Recipient, content)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Sender, content)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// flatten keeps one entry on one line.
func flatten(s string) string {
	return lineBreaks.Replace(s)
}

// reserved reports whether username is taken by the server itself. Frames
// from such a user would pass for server announcements.
func reserved(username string) bool {
	return strings.EqualFold(username, protocol.ServerName)
}

func validateCredentials(username, password string) error {
	if username == "" || strings.ContainsAny(username, ":\r\n") || reserved(username) {
		return ErrInvalidUsername
	}
	if password == "" || strings.ContainsAny(password, "\r\n") {
		return ErrInvalidPassword
	}
	return nil
}
