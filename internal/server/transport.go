package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// Transport names used in logs and metrics.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Conn is one client connection carrying whole frames. WriteMessage must be
// safe for concurrent use; ReadMessage is only called by the session owning it.
type Conn interface {
	// ReadMessage blocks until one full frame arrives. It returns io.EOF on an
	// orderly close before the first byte of a frame.
	ReadMessage(ctx context.Context) (protocol.Message, error)
	WriteMessage(m protocol.Message) error
	// Close is safe to call more than once.
	Close() error
	RemoteAddr() string
	Transport() string
}

// tcpConn frames a stream connection. Reads wake up every pollInterval to
// check ctx; a frame split across wake-ups is kept in buf.
type tcpConn struct {
	conn         net.Conn
	pollInterval time.Duration
	writeTimeout time.Duration

	buf []byte
	off int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewTCPConn wraps a stream connection. Zero durations disable the poll and
// the write deadline respectively.
func NewTCPConn(conn net.Conn, pollInterval, writeTimeout time.Duration) Conn {
	return &tcpConn{
		conn:         conn,
		pollInterval: pollInterval,
		writeTimeout: writeTimeout,
		buf:          make([]byte, protocol.FrameSize),
	}
}

func (c *tcpConn) ReadMessage(ctx context.Context) (protocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Message{}, err
		}
		if c.pollInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.pollInterval))
		}

		n, err := c.conn.Read(c.buf[c.off:])
		c.off += n
		if c.off == protocol.FrameSize {
			c.off = 0
			return protocol.Decode(c.buf)
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if errors.Is(err, io.EOF) && c.off > 0 {
			return protocol.Message{}, protocol.ErrShortFrame
		}
		return protocol.Message{}, err
	}
}

func (c *tcpConn) WriteMessage(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(protocol.Encode(m))
	return err
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *tcpConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *tcpConn) Transport() string { return TransportTCP }

// wsConn carries one frame per binary WebSocket message.
type wsConn struct {
	conn         *websocket.Conn
	addr         string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps an upgraded WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn, addr string, writeTimeout time.Duration) Conn {
	conn.SetReadLimit(protocol.FrameSize)
	return &wsConn{conn: conn, addr: addr, writeTimeout: writeTimeout}
}

// ReadMessage ignores ctx: a gorilla connection cannot resume after a read
// deadline fires, so shutdown unblocks it by closing the connection instead.
func (c *wsConn) ReadMessage(_ context.Context) (protocol.Message, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return protocol.Message{}, io.EOF
		}
		return protocol.Message{}, err
	}
	if mt != websocket.BinaryMessage {
		return protocol.Message{}, ErrUnexpectedMessageType
	}
	return protocol.Decode(data)
}

func (c *wsConn) WriteMessage(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(m))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string { return c.addr }

func (c *wsConn) Transport() string { return TransportWebSocket }
