package server_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/cipher"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/Tyrowin/chatrelay/internal/testhelpers"
)

type routerFixture struct {
	registry *server.Registry
	router   *server.Router
	chatLog  store.ChatLog
	conns    map[string]*testhelpers.FakeConn
	slots    map[string]server.SlotID
}

// newRouterFixture logs in every named user on a fake connection. Names
// starting with '-' get a slot but stay unauthenticated.
func newRouterFixture(t *testing.T, chatLog store.ChatLog, names ...string) *routerFixture {
	t.Helper()
	if chatLog == nil {
		var err error
		chatLog, err = store.NewFileChatLog(filepath.Join(t.TempDir(), "chatlog.txt"))
		if err != nil {
			t.Fatal(err)
		}
	}

	f := &routerFixture{
		registry: server.NewRegistry(len(names) + 1),
		chatLog:  chatLog,
		conns:    map[string]*testhelpers.FakeConn{},
		slots:    map[string]server.SlotID{},
	}
	f.router = server.NewRouter(f.registry, chatLog, cipher.Default, 0, zerolog.Nop())

	for _, name := range names {
		conn := testhelpers.NewFakeConn(name)
		id, err := f.registry.Acquire(conn)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(name, "-") {
			if err := f.registry.Authenticate(id, name); err != nil {
				t.Fatal(err)
			}
		}
		f.conns[name] = conn
		f.slots[name] = id
	}
	return f
}

func (f *routerFixture) logLines(t *testing.T) []string {
	t.Helper()
	lines, err := f.chatLog.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return lines
}

// TestBroadcastSkipsSender verifies a chat reaches every other authenticated
// session exactly once and never the sender or an unauthenticated one.
func TestBroadcastSkipsSender(t *testing.T) {
	f := newRouterFixture(t, nil, "alice", "bob", "carol", "-lurker")

	f.router.Chat(context.Background(), f.slots["alice"], protocol.Message{Sender: "alice", Content: "hello"})

	if got := f.conns["alice"].Written(); len(got) != 0 {
		t.Errorf("sender received %d frames", len(got))
	}
	if got := f.conns["-lurker"].Written(); len(got) != 0 {
		t.Errorf("unauthenticated session received %d frames", len(got))
	}
	for _, name := range []string{"bob", "carol"} {
		got := f.conns[name].Written()
		if len(got) != 1 {
			t.Fatalf("%s received %d frames, want 1", name, len(got))
		}
		if got[0].Content == "hello" {
			t.Errorf("%s received untransformed content", name)
		}
		if plain := cipher.Reveal(cipher.Default, got[0]); plain != "hello" {
			t.Errorf("%s revealed %q, want %q", name, plain, "hello")
		}
		if got[0].Timestamp == "" {
			t.Errorf("%s received a message without timestamp", name)
		}
	}

	lines := f.logLines(t)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "] alice: hello") {
		t.Errorf("log = %q, want the untransformed chat", lines)
	}
}

// TestBroadcastContinuesAfterFailure verifies one failing recipient does not
// stop delivery to the others.
func TestBroadcastContinuesAfterFailure(t *testing.T) {
	f := newRouterFixture(t, nil, "alice", "bob", "carol")
	sendErr := errors.New("broken pipe")
	f.conns["alice"].FailWrites(sendErr)

	failures := f.router.Broadcast(protocol.NewServerMessage(protocol.TypeChat, "notice"), server.NoSlot)

	if len(failures) != 1 {
		t.Fatalf("Broadcast() returned %d failures, want 1", len(failures))
	}
	if failures[0].Username != "alice" || !errors.Is(failures[0], sendErr) {
		t.Errorf("failure = %v", failures[0])
	}
	for _, name := range []string{"bob", "carol"} {
		if got := f.conns[name].Written(); len(got) != 1 || got[0].Content != "notice" {
			t.Errorf("%s received %+v", name, got)
		}
	}
}

// TestAnnounceIsPlainAndLogged verifies server announcements reach everyone
// in clear text and are logged.
func TestAnnounceIsPlainAndLogged(t *testing.T) {
	f := newRouterFixture(t, nil, "alice", "bob")

	f.router.Announce(context.Background(), "bob has joined the chat")

	for _, name := range []string{"alice", "bob"} {
		got := f.conns[name].Written()
		if len(got) != 1 || got[0].Content != "bob has joined the chat" || got[0].Sender != protocol.ServerName {
			t.Errorf("%s received %+v", name, got)
		}
	}
	if lines := f.logLines(t); len(lines) != 1 || !strings.HasSuffix(lines[0], "] SERVER: bob has joined the chat") {
		t.Errorf("log = %q", lines)
	}
}

// TestChatLogMatchesDelivery verifies a payload filling the whole content
// slot is cut once, so recipients and the chat log see the same text.
func TestChatLogMatchesDelivery(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("a", protocol.ContentWidth-2) + "Z"

	t.Run("chat", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice", "bob")
		f.router.Chat(ctx, f.slots["alice"], protocol.Message{Sender: "alice", Content: long})

		got := f.conns["bob"].Written()
		if len(got) != 1 {
			t.Fatalf("bob received %d frames", len(got))
		}
		delivered := cipher.Reveal(cipher.Default, got[0])
		if delivered != cipher.Fit(long) {
			t.Errorf("delivered %d bytes, want %d", len(delivered), cipher.MaxPlain)
		}
		lines := f.logLines(t)
		if len(lines) != 1 || !strings.HasSuffix(lines[0], "] alice: "+delivered) {
			t.Errorf("logged text differs from delivered text")
		}
	})

	t.Run("private", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice", "bob")
		msg := protocol.Message{Sender: "alice", Recipient: "bob", Content: long}
		if err := f.router.SendPrivate(ctx, f.conns["alice"], msg); err != nil {
			t.Fatal(err)
		}

		delivered := cipher.Reveal(cipher.Default, f.conns["bob"].Written()[0])
		lines := f.logLines(t)
		if len(lines) != 1 || !strings.HasSuffix(lines[0], "] alice -> bob: "+delivered) {
			t.Errorf("logged text differs from delivered text")
		}
	})
}

// TestChatFromServerNameIsSealed verifies the transform depends on who
// authored the message, not on the sender field.
func TestChatFromServerNameIsSealed(t *testing.T) {
	f := newRouterFixture(t, nil, "SERVER", "alice")

	f.router.Chat(context.Background(), f.slots["SERVER"], protocol.Message{Sender: protocol.ServerName, Content: "alice has left the chat"})

	got := f.conns["alice"].Written()
	if len(got) != 1 {
		t.Fatalf("alice received %d frames", len(got))
	}
	if got[0].Content == "alice has left the chat" || got[0].Content[0] != cipher.Marker {
		t.Errorf("user chat reached peers unsealed: %q", got[0].Content)
	}
}

// TestSendPrivate covers delivery to an online recipient and the error for an absent one.
func TestSendPrivate(t *testing.T) {
	ctx := context.Background()

	t.Run("online recipient", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice", "bob", "carol")

		err := f.router.SendPrivate(ctx, f.conns["alice"], protocol.Message{Sender: "alice", Recipient: "bob", Content: "psst"})
		if err != nil {
			t.Fatalf("SendPrivate() error = %v", err)
		}

		got := f.conns["bob"].Written()
		if len(got) != 1 || got[0].Type != protocol.TypePrivate || cipher.Reveal(cipher.Default, got[0]) != "psst" {
			t.Fatalf("bob received %+v", got)
		}
		if n := len(f.conns["carol"].Written()); n != 0 {
			t.Errorf("carol received %d frames", n)
		}

		confirm := f.conns["alice"].Written()
		if len(confirm) != 1 || confirm[0].Type != protocol.TypeSuccess || confirm[0].Content != "Private message sent to bob" {
			t.Errorf("sender confirmation = %+v", confirm)
		}
		if lines := f.logLines(t); len(lines) != 1 || !strings.HasSuffix(lines[0], "] alice -> bob: psst") {
			t.Errorf("log = %q", lines)
		}
	})

	t.Run("absent recipient", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice", "-dave")

		err := f.router.SendPrivate(ctx, f.conns["alice"], protocol.Message{Sender: "alice", Recipient: "dave", Content: "psst"})
		if err != nil {
			t.Fatalf("SendPrivate() error = %v", err)
		}

		confirm := f.conns["alice"].Written()
		if len(confirm) != 1 || confirm[0].Type != protocol.TypeError || confirm[0].Content != "User dave not found or offline" {
			t.Errorf("sender confirmation = %+v", confirm)
		}
		if n := len(f.conns["-dave"].Written()); n != 0 {
			t.Errorf("unauthenticated session received %d frames", n)
		}
		if lines := f.logLines(t); len(lines) != 0 {
			t.Errorf("dropped message was logged: %q", lines)
		}
	})
}

type brokenLog struct{}

func (brokenLog) Append(context.Context, store.Entry) error { return errors.New("disk gone") }

func (brokenLog) ReadAll(context.Context) ([]string, error) { return nil, errors.New("disk gone") }

// TestStreamHistory verifies the marker framing for an empty and a filled log
// and the single ERROR frame for an unreadable one.
func TestStreamHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("empty log", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice")
		if err := f.router.StreamHistory(ctx, f.conns["alice"]); err != nil {
			t.Fatal(err)
		}
		got := f.conns["alice"].Written()
		if len(got) != 2 || got[0].Content != server.HistoryStart || got[1].Content != server.HistoryEnd {
			t.Errorf("frames = %+v, want start and end markers only", got)
		}
	})

	t.Run("lines in order", func(t *testing.T) {
		f := newRouterFixture(t, nil, "alice", "bob")
		f.router.Chat(ctx, f.slots["bob"], protocol.Message{Sender: "bob", Content: "first"})
		f.router.Chat(ctx, f.slots["bob"], protocol.Message{Sender: "bob", Content: "second"})
		before := len(f.conns["alice"].Written())

		if err := f.router.StreamHistory(ctx, f.conns["alice"]); err != nil {
			t.Fatal(err)
		}
		got := f.conns["alice"].Written()[before:]
		if len(got) != 4 {
			t.Fatalf("history frames = %d, want 4", len(got))
		}
		for _, m := range got {
			if m.Type != protocol.TypeHistory {
				t.Errorf("frame type = %s, want HISTORY", m.Type)
			}
		}
		if !strings.HasSuffix(got[1].Content, "bob: first") || !strings.HasSuffix(got[2].Content, "bob: second") {
			t.Errorf("history lines = %q, %q", got[1].Content, got[2].Content)
		}
	})

	t.Run("unreadable log", func(t *testing.T) {
		f := newRouterFixture(t, brokenLog{}, "alice")
		if err := f.router.StreamHistory(ctx, f.conns["alice"]); err != nil {
			t.Fatal(err)
		}
		got := f.conns["alice"].Written()
		if len(got) != 1 || got[0].Type != protocol.TypeError || got[0].Content != "Chat history not available" {
			t.Errorf("frames = %+v", got)
		}
	})
}
