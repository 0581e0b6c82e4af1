package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/store"
)

func openBackends(t *testing.T) map[string]*store.Stores {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	file, err := store.Open(ctx, store.Options{
		Backend:     store.BackendFile,
		UsersFile:   filepath.Join(dir, "users.txt"),
		ChatLogFile: filepath.Join(dir, "chatlog.txt"),
	})
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}

	sqlite, err := store.Open(ctx, store.Options{
		Backend:    store.BackendSQLite,
		SQLitePath: filepath.Join(dir, "db", "chat.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]*store.Stores{"file": file, "sqlite": sqlite}
}

// TestRegisterTwice verifies the second registration of a name fails with ErrUserExists.
func TestRegisterTwice(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Credentials.Register(ctx, "alice", "secret"); err != nil {
				t.Fatalf("first Register() error = %v", err)
			}
			if err := s.Credentials.Register(ctx, "alice", "other"); !errors.Is(err, store.ErrUserExists) {
				t.Fatalf("second Register() error = %v, want ErrUserExists", err)
			}
		})
	}
}

// TestAuthenticate verifies exact-match comparison of stored credentials.
func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Credentials.Register(ctx, "bob", "pa:ss"); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			tests := []struct {
				user, pass string
				want       bool
			}{
				{"bob", "pa:ss", true},
				{"bob", "pa", false},
				{"bob", "PA:SS", false},
				{"Bob", "pa:ss", false},
				{"carol", "pa:ss", false},
				{"", "", false},
			}
			for _, tt := range tests {
				ok, err := s.Credentials.Authenticate(ctx, tt.user, tt.pass)
				if err != nil {
					t.Fatalf("Authenticate(%q) error = %v", tt.user, err)
				}
				if ok != tt.want {
					t.Errorf("Authenticate(%q, %q) = %v, want %v", tt.user, tt.pass, ok, tt.want)
				}
			}
		})
	}
}

// TestRegisterRejectsUnstorableCredentials verifies names that would corrupt
// the record format are refused.
func TestRegisterRejectsUnstorableCredentials(t *testing.T) {
	ctx := context.Background()
	s := openBackends(t)["file"]

	tests := []struct {
		user, pass string
		want       error
	}{
		{"", "x", store.ErrInvalidUsername},
		{"a:b", "x", store.ErrInvalidUsername},
		{"a\nb", "x", store.ErrInvalidUsername},
		{"SERVER", "x", store.ErrInvalidUsername},
		{"server", "x", store.ErrInvalidUsername},
		{"dave", "", store.ErrInvalidPassword},
		{"dave", "x\ny", store.ErrInvalidPassword},
	}
	for _, tt := range tests {
		if err := s.Credentials.Register(ctx, tt.user, tt.pass); !errors.Is(err, tt.want) {
			t.Errorf("Register(%q, %q) error = %v, want %v", tt.user, tt.pass, err, tt.want)
		}
	}
}

// TestServerNameNeverAuthenticates verifies a stored record for the server's
// own name cannot be used to log in on either backend.
func TestServerNameNeverAuthenticates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	users := filepath.Join(dir, "users.txt")
	if err := os.WriteFile(users, []byte("SERVER:pw\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	file, err := store.NewFileCredentialStore(users)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := file.Authenticate(ctx, "SERVER", "pw"); err != nil || ok {
		t.Errorf("file Authenticate(SERVER) = %v, %v; want false", ok, err)
	}

	db, err := store.NewSQLiteStore(ctx, filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if ok, err := db.Authenticate(ctx, "SERVER", "pw"); err != nil || ok {
		t.Errorf("sqlite Authenticate(SERVER) = %v, %v; want false", ok, err)
	}
}

// TestConcurrentRegisterSameName verifies exactly one of many simultaneous
// registrations of one name wins.
func TestConcurrentRegisterSameName(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.Credentials.Register(ctx, "erin", fmt.Sprintf("pw%d", i))
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					} else if !errors.Is(err, store.ErrUserExists) {
						t.Errorf("Register() error = %v", err)
					}
				}(i)
			}
			wg.Wait()
			if wins != 1 {
				t.Errorf("successful registrations = %d, want 1", wins)
			}
		})
	}
}

// TestChatLogOrder verifies entries render in both formats and read back in append order.
func TestChatLogOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			lines, err := s.Log.ReadAll(ctx)
			if err != nil {
				t.Fatalf("ReadAll() on empty log error = %v", err)
			}
			if len(lines) != 0 {
				t.Fatalf("empty log returned %d lines", len(lines))
			}

			entries := []store.Entry{
				{Timestamp: "2024-01-01 10:00:00", Sender: "alice", Content: "hello"},
				{Timestamp: "2024-01-01 10:00:01", Sender: "alice", Recipient: "bob", Content: "psst", Private: true},
				{Timestamp: "2024-01-01 10:00:02", Sender: "SERVER", Content: "two\nlines"},
			}
			for _, e := range entries {
				if err := s.Log.Append(ctx, e); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			want := []string{
				"[2024-01-01 10:00:00] alice: hello",
				"[2024-01-01 10:00:01] alice -> bob: psst",
				"[2024-01-01 10:00:02] SERVER: two lines",
			}
			lines, err = s.Log.ReadAll(ctx)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if len(lines) != len(want) {
				t.Fatalf("ReadAll() returned %d lines, want %d", len(lines), len(want))
			}
			for i := range want {
				if lines[i] != want[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
				}
			}
		})
	}
}

// TestFileChatLogMissing verifies a deleted log surfaces ErrHistoryUnavailable.
func TestFileChatLogMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatlog.txt")
	chatLog, err := store.NewFileChatLog(path)
	if err != nil {
		t.Fatalf("NewFileChatLog() error = %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if _, err := chatLog.ReadAll(context.Background()); !errors.Is(err, store.ErrHistoryUnavailable) {
		t.Errorf("ReadAll() error = %v, want ErrHistoryUnavailable", err)
	}
}

// TestOpenCreatesFiles verifies startup creates both backing files.
func TestOpenCreatesFiles(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "users.txt")
	chatLog := filepath.Join(dir, "chatlog.txt")

	if _, err := store.Open(context.Background(), store.Options{UsersFile: users, ChatLogFile: chatLog}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, p := range []string{users, chatLog} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}

	if _, err := store.Open(context.Background(), store.Options{Backend: "mongo"}); err == nil {
		t.Error("Open() accepted an unknown backend")
	}
}
