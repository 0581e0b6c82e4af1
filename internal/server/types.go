package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var (
	// ErrRegistryFull is returned by Acquire when every slot is occupied.
	ErrRegistryFull = errors.New("server: registry full")
	// ErrSlotNotOccupied is returned when an operation targets a free slot.
	ErrSlotNotOccupied = errors.New("server: slot not occupied")
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrUnexpectedMessageType is returned when a WebSocket peer sends a non-binary message.
	ErrUnexpectedMessageType = errors.New("server: unexpected websocket message type")
)

// DeliveryError records a failed send to one fan-out recipient. It never
// fails the request that triggered the fan-out.
type DeliveryError struct {
	Slot     SlotID
	Username string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (slot %d): %v", e.Username, e.Slot, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// isProtocolError reports whether err means the peer broke framing.
func isProtocolError(err error) bool {
	return errors.Is(err, protocol.ErrShortFrame) ||
		errors.Is(err, protocol.ErrFrameSize) ||
		errors.Is(err, ErrUnexpectedMessageType) ||
		errors.Is(err, websocket.ErrReadLimit)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
