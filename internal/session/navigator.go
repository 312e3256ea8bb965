package session

import (
	"slices"
	"sync"
)

// MemoryNavigator is a Navigator that records the visited paths.
type MemoryNavigator struct {
	mu      sync.Mutex
	current string
	history []string
	onPush  func(path string)
}

// NewMemoryNavigator returns a navigator on the path, onPush is called after every push.
func NewMemoryNavigator(path string, onPush func(path string)) *MemoryNavigator {
	return &MemoryNavigator{current: path, onPush: onPush}
}

func (m *MemoryNavigator) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MemoryNavigator) Push(path string) {
	m.mu.Lock()
	m.current = path
	m.history = append(m.history, path)
	onPush := m.onPush
	m.mu.Unlock()

	if onPush != nil {
		onPush(path)
	}
}

// History returns the pushed paths, nil when nothing was pushed.
func (m *MemoryNavigator) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}
