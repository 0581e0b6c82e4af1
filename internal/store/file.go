package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const filePerm = 0o644

// ensureFile creates path if it does not exist yet.
func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

// FileCredentialStore keeps one "username:password" record per line. The
// file is opened for every call; nothing is cached in memory.
type FileCredentialStore struct {
	path string
	// serializes the check-then-append in Register
	mu sync.Mutex
}

// NewFileCredentialStore creates the backing file if needed.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if err := ensureFile(path); err != nil {
		return nil, fmt.Errorf("create users file: %w", err)
	}
	return &FileCredentialStore{path: path}, nil
}

// Authenticate implements CredentialStore.
func (s *FileCredentialStore) Authenticate(_ context.Context, username, password string) (bool, error) {
	if reserved(username) {
		return false, nil
	}
	found := false
	err := s.scan(func(user, pass string) bool {
		if user == username && pass == password {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Register implements CredentialStore.
func (s *FileCredentialStore) Register(_ context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists := false
	if err := s.scan(func(user, _ string) bool {
		exists = user == username
		return !exists
	}); err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open users file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s:%s\n", username, password); err != nil {
		_ = f.Close()
		return fmt.Errorf("write users file: %w", err)
	}
	return f.Close()
}

// scan calls fn for every well formed record until fn returns false. The
// password is everything after the first ':'.
func (s *FileCredentialStore) scan(fn func(user, pass string) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		user, pass, ok := strings.Cut(strings.TrimRight(sc.Text(), "\r"), ":")
		if !ok || user == "" {
			continue
		}
		if !fn(user, pass) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	return nil
}

// FileChatLog appends one rendered Entry per line to a text file.
type FileChatLog struct {
	path string
	mu   sync.Mutex
}

// NewFileChatLog creates the backing file if needed.
func NewFileChatLog(path string) (*FileChatLog, error) {
	if err := ensureFile(path); err != nil {
		return nil, fmt.Errorf("create chat log file: %w", err)
	}
	return &FileChatLog{path: path}, nil
}

// Append implements ChatLog.
func (l *FileChatLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write chat log: %w", err)
	}
	return f.Close()
}

// ReadAll implements ChatLog.
func (l *FileChatLog) ReadAll(_ context.Context) ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return lines, nil
}
