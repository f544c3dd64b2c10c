// Package lock provides keyed mutual exclusion with expiring, token-owned
// leases. Only the holder of the token may refresh or release a key.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotHeld = errors.New("lock not held by token")

type entry struct {
	token   string
	expires time.Time
}

// Memory is an in-process lock for single-instance deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source; used by tests to expire leases.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if current, ok := m.entries[key]; ok && now.Before(current.expires) && current.token != token {
		return false, nil
	}
	m.entries[key] = entry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Refresh(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	current, ok := m.entries[key]
	if !ok || current.token != token || !now.Before(current.expires) {
		return ErrNotHeld
	}
	m.entries[key] = entry{token: token, expires: now.Add(ttl)}
	return nil
}

// Release is a no-op when token no longer holds the key.
func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[key]; ok && current.token == token {
		delete(m.entries, key)
	}
	return nil
}

// Holder returns the token currently holding key, if any.
func (m *Memory) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[key]
	if !ok || !m.now().Before(current.expires) {
		return "", false
	}
	return current.token, true
}
