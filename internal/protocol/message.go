// Package protocol defines the fixed-size binary record exchanged between
// relay clients and the server, and the helpers used to frame it on a stream.
package protocol

import (
	"fmt"
	"time"
)

// Type identifies what a Message asks for or reports.
type Type int32

// Message types. The numeric values are part of the wire format.
const (
	TypeRegister Type = iota + 1
	TypeLogin
	TypeChat
	TypePrivate
	TypeHistory
	TypeLogout
	TypeSuccess
	TypeError
)

var typeNames = map[Type]string{
	TypeRegister: "REGISTER",
	TypeLogin:    "LOGIN",
	TypeChat:     "CHAT",
	TypePrivate:  "PRIVATE",
	TypeHistory:  "HISTORY",
	TypeLogout:   "LOGOUT",
	TypeSuccess:  "SUCCESS",
	TypeError:    "ERROR",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// Valid reports whether t is one of the defined message types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ServerName is the sender used for every server-authored message.
const ServerName = "SERVER"

// TimestampLayout is the format of Message.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Message is the logical record carried by one frame.
//
// Content holds the password for REGISTER and LOGIN, the body for CHAT and
// PRIVATE, and a status text or log line otherwise. Recipient is only
// meaningful for PRIVATE.
type Message struct {
	Type      Type
	Sender    string
	Recipient string
	Timestamp string
	Content   string
}

// Now returns the current local time formatted for Message.Timestamp.
func Now() string {
	return time.Now().Format(TimestampLayout)
}

// NewServerMessage builds a server-authored message stamped with the current time.
func NewServerMessage(t Type, content string) Message {
	return Message{
		Type:      t,
		Sender:    ServerName,
		Timestamp: Now(),
		Content:   content,
	}
}

// IsServer reports whether the message was authored by the server.
func (m Message) IsServer() bool {
	return m.Sender == ServerName
}

// Truncated returns a copy of m with every field cut to what fits in its
// fixed-width slot, exactly as it would be after a round trip on the wire.
func (m Message) Truncated() Message {
	return Message{
		Type:      m.Type,
		Sender:    truncate(m.Sender, SenderWidth),
		Recipient: truncate(m.Recipient, RecipientWidth),
		Timestamp: truncate(m.Timestamp, TimestampWidth),
		Content:   truncate(m.Content, ContentWidth),
	}
}
