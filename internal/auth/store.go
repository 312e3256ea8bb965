package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/slok/taskdash/internal/model"
)

// SessionStore persists the client session.
type SessionStore interface {
	// Load returns nil without error when there is no session.
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, s model.Session) error
	Clear(ctx context.Context) error
}

// FileSessionStore stores the session as JSON on a file only readable by the user.
type FileSessionStore struct {
	path string
}

// NewFileSessionStore returns a new file session store.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (f *FileSessionStore) Load(ctx context.Context) (*model.Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read session file: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not decode session file: %w", err)
	}
	return &s, nil
}

func (f *FileSessionStore) Save(ctx context.Context, s model.Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("could not create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode session: %w", err)
	}

	// Write and rename so a crash never leaves a truncated session.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("could not write session file: %w", err)
	}
	return nil
}

func (f *FileSessionStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove session file: %w", err)
	}
	return nil
}

// MemorySessionStore keeps the session in memory.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *model.Session
}

func (m *MemorySessionStore) Load(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemorySessionStore) Save(ctx context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemorySessionStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
