package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Field widths in bytes. Each string field is NUL terminated inside its slot,
// so it carries at most width-1 bytes of text.
const (
	TypeWidth      = 4
	SenderWidth    = 50
	RecipientWidth = 50
	TimestampWidth = 26
	ContentWidth   = 1000

	// trailing alignment padding of the C record layout
	paddingWidth = 2

	// FrameSize is the exact number of bytes of one record on the wire.
	FrameSize = TypeWidth + SenderWidth + RecipientWidth + TimestampWidth + ContentWidth + paddingWidth
)

const (
	senderOffset    = TypeWidth
	recipientOffset = senderOffset + SenderWidth
	timestampOffset = recipientOffset + RecipientWidth
	contentOffset   = timestampOffset + TimestampWidth
)

var (
	// ErrShortFrame is returned when a stream ends in the middle of a record.
	ErrShortFrame = errors.New("protocol: short frame")
	// ErrFrameSize is returned when a buffer does not hold exactly one record.
	ErrFrameSize = errors.New("protocol: invalid frame size")
)

// Encode writes m into a freshly allocated FrameSize buffer.
func Encode(m Message) []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(buf[:TypeWidth], uint32(m.Type))
	putString(buf[senderOffset:recipientOffset], m.Sender)
	putString(buf[recipientOffset:timestampOffset], m.Recipient)
	putString(buf[timestampOffset:contentOffset], m.Timestamp)
	putString(buf[contentOffset:contentOffset+ContentWidth], m.Content)
	return buf
}

// Decode parses one record. The buffer must be exactly FrameSize bytes long.
func Decode(buf []byte) (Message, error) {
	if len(buf) != FrameSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(buf), FrameSize)
	}
	return Message{
		Type:      Type(int32(binary.LittleEndian.Uint32(buf[:TypeWidth]))),
		Sender:    getString(buf[senderOffset:recipientOffset]),
		Recipient: getString(buf[recipientOffset:timestampOffset]),
		Timestamp: getString(buf[timestampOffset:contentOffset]),
		Content:   getString(buf[contentOffset : contentOffset+ContentWidth]),
	}, nil
}

// WriteFrame writes m as one record.
func WriteFrame(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}

// ReadFrame reads exactly one record. It returns io.EOF when the stream ends
// cleanly before the first byte and ErrShortFrame when it ends mid-record.
func ReadFrame(r io.Reader) (Message, error) {
	buf := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortFrame
		}
		return Message{}, err
	}
	return Decode(buf)
}

func putString(dst []byte, s string) {
	copy(dst, truncate(s, len(dst)))
}

func getString(src []byte) string {
	if i := strings.IndexByte(string(src), 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// Clip cuts s to at most n bytes, stopping at a NUL and never splitting a
// UTF-8 sequence.
func Clip(s string, n int) string {
	return truncate(s, n+1)
}

// truncate cuts s so that it fits in a slot of the given width including the
// terminating NUL, without splitting a UTF-8 sequence.
func truncate(s string, width int) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	limit := width - 1
	if len(s) <= limit {
		return s
	}
	// a UTF-8 sequence has at most three continuation bytes; anything longer
	// is not UTF-8 and is cut at the limit
	for cut := limit; cut > 0 && cut > limit-utf8.UTFMax; cut-- {
		if utf8.RuneStart(s[cut]) {
			return s[:cut]
		}
	}
	return s[:limit]
}
