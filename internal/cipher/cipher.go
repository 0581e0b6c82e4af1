// Package cipher holds the reversible content transform applied to user
// payloads before they leave the server.
package cipher

import (
	"strings"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// Marker prefixes every transformed payload so a receiver can tell it apart
// from server-authored plain text. It is not a letter, so the shift leaves it alone.
const Marker = '#'

// Transform is a reversible content transform.
type Transform interface {
	Encrypt(s string) string
	Decrypt(s string) string
}

// Caesar shifts ASCII letters by Shift positions and leaves everything else untouched.
type Caesar struct {
	Shift int
}

// Default is the shift-by-three transform the relay clients expect.
var Default Transform = Caesar{Shift: 3}

// Encrypt shifts letters forward.
func (c Caesar) Encrypt(s string) string {
	return c.rotate(s, c.Shift)
}

// Decrypt shifts letters back.
func (c Caesar) Decrypt(s string) string {
	return c.rotate(s, -c.Shift)
}

// rotate works on bytes so text in single-byte code pages survives a round trip.
func (c Caesar) rotate(s string, shift int) string {
	shift = ((shift % 26) + 26) % 26
	b := []byte(s)
	for i, ch := range b {
		switch {
		case ch >= 'a' && ch <= 'z':
			b[i] = 'a' + byte((int(ch-'a')+shift)%26)
		case ch >= 'A' && ch <= 'Z':
			b[i] = 'A' + byte((int(ch-'A')+shift)%26)
		}
	}
	return string(b)
}

// MaxPlain is the longest plaintext that still fits a content slot once the
// marker is added.
const MaxPlain = protocol.ContentWidth - 2

// Fit cuts content to MaxPlain bytes. Content passed through Fit comes out of
// Open(Seal(...)) unchanged.
func Fit(content string) string {
	return protocol.Clip(content, MaxPlain)
}

// Seal prefixes content with Marker and transforms it. Content longer than
// MaxPlain is cut first so the result fits in the content slot of a frame.
func Seal(t Transform, content string) string {
	return t.Encrypt(string(Marker) + Fit(content))
}

// Open reverses Seal. Content without the marker is returned decrypted as is.
func Open(t Transform, content string) string {
	plain := t.Decrypt(content)
	return strings.TrimPrefix(plain, string(Marker))
}

// Reveal returns the displayable content of a received message. Server
// messages are plain text; user CHAT and PRIVATE payloads are sealed.
func Reveal(t Transform, m protocol.Message) string {
	if m.IsServer() {
		return m.Content
	}
	switch m.Type {
	case protocol.TypeChat, protocol.TypePrivate:
		return Open(t, m.Content)
	}
	return m.Content
}
