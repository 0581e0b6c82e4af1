// Package testhelpers provides a frame-speaking test client and in-memory
// fakes shared by the relay's package tests.
package testhelpers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/cipher"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// Client is a relay client used by tests. It speaks the same frames as the
// server through a server.Conn.
type Client struct {
	Conn server.Conn
	ws   *websocket.Conn
}

// DialTCP connects to a relay TCP listener.
func DialTCP(t *testing.T, addr string) *Client {
	t.Helper()
	dialer := net.Dialer{Timeout: DefaultTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("could not connect to server: %v", err)
	}
	c := &Client{Conn: server.NewTCPConn(conn, 10*time.Millisecond, DefaultTimeout)}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// DialWebSocket connects to a relay WebSocket endpoint such as ws://host/ws.
func DialWebSocket(t *testing.T, url string) *Client {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("could not open websocket: %v", err)
	}
	c := &Client{
		Conn: server.NewWebSocketConn(conn, conn.LocalAddr().String(), DefaultTimeout),
		ws:   conn,
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// WebSocketURL converts an httptest server URL into the relay's WebSocket URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.Conn.Close()
}

// Send writes one frame.
func (c *Client) Send(t *testing.T, msg protocol.Message) {
	t.Helper()
	if err := c.Conn.WriteMessage(msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

// Read returns the next frame or the read error, waiting at most timeout.
func (c *Client) Read(timeout time.Duration) (protocol.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if c.ws != nil {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	}
	return c.Conn.ReadMessage(ctx)
}

// Receive returns the next frame and fails the test if none arrives in time.
func (c *Client) Receive(t *testing.T) protocol.Message {
	t.Helper()
	msg, err := c.Read(DefaultTimeout)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

// Expect reads the next frame and checks its type and displayed content.
func (c *Client) Expect(t *testing.T, typ protocol.Type, content string) protocol.Message {
	t.Helper()
	msg := c.Receive(t)
	if msg.Type != typ {
		t.Fatalf("expected %s frame, got %s (%q)", typ, msg.Type, msg.Content)
	}
	if got := cipher.Reveal(cipher.Default, msg); got != content {
		t.Fatalf("expected content %q, got %q", content, got)
	}
	return msg
}

// ExpectNoMessage fails if a frame arrives within d. Only TCP clients
// survive the read timeout this relies on.
func (c *Client) ExpectNoMessage(t *testing.T, d time.Duration) {
	t.Helper()
	if c.ws != nil {
		t.Fatal("ExpectNoMessage is not supported on websocket clients")
	}
	msg, err := c.Read(d)
	if err == nil {
		t.Fatalf("expected no message, got %s %q", msg.Type, msg.Content)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

// ExpectClosed fails unless the server closes the connection within the default timeout.
func (c *Client) ExpectClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		msg, err := c.Read(time.Until(deadline))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return
		}
		t.Logf("discarding %s %q while waiting for close", msg.Type, msg.Content)
	}
	t.Fatal("connection was not closed by the server")
}

// Register sends REGISTER and returns the server's reply.
func (c *Client) Register(t *testing.T, username, password string) protocol.Message {
	t.Helper()
	c.Send(t, protocol.Message{Type: protocol.TypeRegister, Sender: username, Content: password})
	return c.Receive(t)
}

// Login logs in and consumes the SUCCESS reply and the client's own join announcement.
func (c *Client) Login(t *testing.T, username, password string) {
	t.Helper()
	c.Send(t, protocol.Message{Type: protocol.TypeLogin, Sender: username, Content: password})
	c.Expect(t, protocol.TypeSuccess, "Login successful")
	c.Expect(t, protocol.TypeChat, username+" has joined the chat")
}

// Chat sends a public message.
func (c *Client) Chat(t *testing.T, from, content string) {
	t.Helper()
	c.Send(t, protocol.Message{Type: protocol.TypeChat, Sender: from, Content: content})
}

// Private sends a private message.
func (c *Client) Private(t *testing.T, from, to, content string) {
	t.Helper()
	c.Send(t, protocol.Message{Type: protocol.TypePrivate, Sender: from, Recipient: to, Content: content})
}

// FakeConn is an in-memory server.Conn recording every frame written to it.
type FakeConn struct {
	Name string

	mu       sync.Mutex
	written  []protocol.Message
	writeErr error
	closed   bool
}

// NewFakeConn creates a fake connection identified by name.
func NewFakeConn(name string) *FakeConn {
	return &FakeConn{Name: name}
}

// FailWrites makes every following write fail with err.
func (f *FakeConn) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// ReadMessage blocks until ctx is done.
func (f *FakeConn) ReadMessage(ctx context.Context) (protocol.Message, error) {
	<-ctx.Done()
	return protocol.Message{}, ctx.Err()
}

// WriteMessage records msg as it would arrive after a trip over the wire.
func (f *FakeConn) WriteMessage(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.closed {
		return net.ErrClosed
	}
	f.written = append(f.written, msg.Truncated())
	return nil
}

// Close marks the connection closed.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Written returns a copy of the recorded frames.
func (f *FakeConn) Written() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.written...)
}

func (f *FakeConn) RemoteAddr() string { return "fake:" + f.Name }

func (f *FakeConn) Transport() string { return "fake" }

// Eventually polls cond until it holds or the default timeout expires.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
