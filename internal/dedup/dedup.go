package dedup

import (
	"context"
	"sync"
	"time"
)

// Store tracks idempotency keys inside a sliding window so duplicate
// submissions of the same logical event deliver exactly once per
// destination.
type Store interface {
	// Seen registers key and reports whether it was already present
	// inside the window.
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

// memoryStore is the in-process implementation: a mutex-guarded map
// with lazy expiry. Suitable for a single relay instance; use the
// redis store when multiple instances share a dedup window.
type memoryStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an in-memory dedup window.
func NewMemoryStore(window time.Duration) Store {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &memoryStore{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *memoryStore) Seen(ctx context.Context, key string) (bool, error) {
	now := m.now()
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Lazy sweep keeps the map bounded without a background goroutine.
	if len(m.entries) > 4096 {
		for k, at := range m.entries {
			if at.Before(cutoff) {
				delete(m.entries, k)
			}
		}
	}

	if at, ok := m.entries[key]; ok && at.After(cutoff) {
		return true, nil
	}

	m.entries[key] = now
	return false, nil
}

func (m *memoryStore) Close() error { return nil }
