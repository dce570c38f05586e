package channels

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns the configured adapters: starts them together, stops them
// together, and fans notifications out to the platform a user lives on.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{adapters: make(map[string]Adapter)}
}

// Add registers an adapter; later Start/Stop calls include it.
func (m *Manager) Add(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

// Get returns the adapter for a channel name, or nil.
func (m *Manager) Get(name string) Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapters[name]
}

// StartAll starts every adapter; a failing adapter is logged and skipped so
// one broken bot token does not take the gateway down.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Start(ctx); err != nil {
			slog.Error("channels: adapter failed to start", "channel", name, "error", err)
			continue
		}
		slog.Info("channels: adapter started", "channel", name)
	}
}

// StopAll stops every adapter.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Stop(ctx); err != nil {
			slog.Warn("channels: adapter failed to stop", "channel", name, "error", err)
		}
	}
}

// Notify pushes an out-of-band message to the user on a specific channel.
// Channel "" broadcasts to every adapter that knows the user.
func (m *Manager) Notify(ctx context.Context, channel, userID, message string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if channel != "" && channel != name {
			continue
		}
		if err := a.Notify(ctx, userID, message); err != nil {
			slog.Debug("channels: notify skipped", "channel", name, "user", userID, "error", err)
		}
	}
}
