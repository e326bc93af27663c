// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 as a bounded map with TTL support.
// Unexpired entries are never evicted to make room: a denylist that forgot
// entries would let revoked tokens through.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/authn-jwt/storage"
)

// cleanupInterval is how often expired items are swept.
const cleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.StorageItem]
	max   int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a new in-memory storage holding at most maxItems entries. Once
// full, Set of a new key first drops expired entries and then fails with
// storage.ErrFull.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		max:   maxItems,
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(cleanupInterval)

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	return item, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)

	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Contains(storageKey) && s.cache.Len() >= s.max {
		s.removeExpired(now)
		if s.cache.Len() >= s.max {
			return fmt.Errorf("%w: %d unexpired entries", storage.ErrFull, s.max)
		}
	}
	s.cache.Add(storageKey, item)
	return nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	// LRU has no prefix iteration.
	prefix := namespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close purges all entries and stops the cleanup loop.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

func namespacePrefix(ns string) string {
	if ns == "" {
		return "global:"
	}
	return "ns:" + ns + ":"
}

func buildKey(ns, key string) string {
	return namespacePrefix(ns) + "key:" + key
}

func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Storage) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeExpired(time.Now())
}

// removeExpired must be called with s.mu held.
func (s *Storage) removeExpired(now time.Time) {
	for _, key := range s.cache.Keys() {
		if item, ok := s.cache.Peek(key); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
			s.cache.Remove(key)
		}
	}
}

var _ storage.Storage = (*Storage)(nil)
