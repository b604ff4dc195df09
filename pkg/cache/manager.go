package cache

import (
	"context"
	"sync"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
)

// LoadFunc resolves the category for a key on a cache miss.
type LoadFunc func(ctx context.Context) (*listing.Category, error)

// call is an in-flight load shared by concurrent lookups of one key.
type call struct {
	done     chan struct{}
	category *listing.Category
	err      error
}

// Manager is an in-memory category cache for the lifetime of one run. It is
// safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	entries  map[Key]*Entry
	inflight map[Key]*call
}

// NewManager creates an empty cache.
func NewManager() *Manager {
	return &Manager{
		entries:  make(map[Key]*Entry),
		inflight: make(map[Key]*call),
	}
}

// GetOrLoad returns the cached category for key or calls load on a miss.
// Concurrent callers for the same key wait for a single load. Successful
// results are stored, a nil category included. Errors are returned to every
// waiter and not stored.
func (m *Manager) GetOrLoad(ctx context.Context, key Key, load LoadFunc) (*listing.Category, error) {
	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		m.mu.Unlock()
		CacheHits.Inc()
		return entry.Category, nil
	}
	if c, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-c.done:
			if c.err == nil {
				CacheHits.Inc()
			}
			return c.category, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	m.inflight[key] = c
	m.mu.Unlock()

	CacheMisses.Inc()
	c.category, c.err = load(ctx)

	m.mu.Lock()
	delete(m.inflight, key)
	if c.err == nil {
		if _, exists := m.entries[key]; !exists {
			CacheEntries.Inc()
		}
		m.entries[key] = &Entry{Category: c.category}
	}
	m.mu.Unlock()
	close(c.done)

	if c.err != nil {
		CacheErrors.Inc()
	}
	return c.category, c.err
}

// Resolved returns the number of cached lookups and how many of them carried
// a category.
func (m *Manager) Resolved() (entries, resolved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Resolved() {
			resolved++
		}
	}
	return len(m.entries), resolved
}

// Reset drops all entries. Scraper.Run calls it when the run ends.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	CacheEntries.Sub(float64(len(m.entries)))
	m.entries = make(map[Key]*Entry)
}
