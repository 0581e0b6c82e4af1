package store

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options selects and locates the persistence backend.
type Options struct {
	Backend     string
	UsersFile   string
	ChatLogFile string
	SQLitePath  string
}

// Stores bundles the two collaborators of the relay.
type Stores struct {
	Credentials CredentialStore
	Log         ChatLog

	closeFn func() error
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// Open prepares the configured backend. Missing files or tables are created.
func Open(ctx context.Context, opts Options) (*Stores, error) {
	switch opts.Backend {
	case "", BackendFile:
		creds, err := NewFileCredentialStore(opts.UsersFile)
		if err != nil {
			return nil, err
		}
		chatLog, err := NewFileChatLog(opts.ChatLogFile)
		if err != nil {
			return nil, err
		}
		return &Stores{Credentials: creds, Log: chatLog}, nil

	case BackendSQLite:
		db, err := NewSQLiteStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &Stores{Credentials: db, Log: db, closeFn: db.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
