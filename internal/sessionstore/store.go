// Package sessionstore keeps the small amount of client state the browser
// used to hold itself: the credential token per browser and the pending
// continuation per tab.
package sessionstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyAuthToken     = "authToken"
	KeyPendingReview = "pendingReview"
)

var ErrEmptyScope = errors.New("sessionstore: empty scope")

// Store is a scoped key/value store. Get reports ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, value []byte) error
	Clear(ctx context.Context, scope, key string) error
}

// BrowserScope is durable across tabs of one browser.
func BrowserScope(browserID string) string { return "browser:" + browserID }

// TabScope lives only as long as one tab.
func TabScope(tabID string) string { return "tab:" + tabID }

type entry struct {
	value     []byte
	updatedAt time.Time
}

// MemoryStore is an in-process Store. State is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]entry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	if scope == "" {
		return nil, false, ErrEmptyScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[scope][key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryStore) Set(_ context.Context, scope, key string, value []byte) error {
	if scope == "" {
		return ErrEmptyScope
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.data[scope]
	if !ok {
		keys = make(map[string]entry)
		m.data[scope] = keys
	}
	keys[key] = entry{value: v, updatedAt: m.now()}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, scope, key string) error {
	if scope == "" {
		return ErrEmptyScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[scope], key)
	if len(m.data[scope]) == 0 {
		delete(m.data, scope)
	}
	return nil
}

// Purge drops entries in scopes starting with prefix that were last written
// before the cutoff. Returns the number of entries removed.
func (m *MemoryStore) Purge(_ context.Context, prefix string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for scope, keys := range m.data {
		if !strings.HasPrefix(scope, prefix) {
			continue
		}
		for k, e := range keys {
			if e.updatedAt.Before(before) {
				delete(keys, k)
				n++
			}
		}
		if len(keys) == 0 {
			delete(m.data, scope)
		}
	}
	return n, nil
}
