package mocks

import (
	"sync"

	"github.com/teilomillet/citegate/config"
)

// MockConfigWatcher is an in-memory config.Watcher. Tests push new
// configurations with UpdateConfig.
type MockConfigWatcher struct {
	mu          sync.Mutex
	current     *config.Config
	subscribers []chan *config.Config
	closed      bool
}

var _ config.Watcher = (*MockConfigWatcher)(nil)

// NewMockConfigWatcher returns a watcher serving cfg.
func NewMockConfigWatcher(cfg *config.Config) *MockConfigWatcher {
	return &MockConfigWatcher{current: cfg}
}

// GetCurrentConfig implements config.Watcher.
func (m *MockConfigWatcher) GetCurrentConfig() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe implements config.Watcher. The current configuration is
// delivered immediately, like the file watcher does.
func (m *MockConfigWatcher) Subscribe() <-chan *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *config.Config, 1)
	if m.closed {
		close(ch)
		return ch
	}
	ch <- m.current
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Close implements config.Watcher.
func (m *MockConfigWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	return nil
}

// UpdateConfig replaces the configuration and notifies subscribers. A
// subscriber that has not consumed the previous update only sees the latest.
func (m *MockConfigWatcher) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = cfg

	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}
