// Package store provides a generic in-memory map whose entries expire.
// The registry uses it to remember recently destroyed calls.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLStore is a concurrency-safe map with per-entry expiry and a background
// sweeper. A zero sweep interval disables the sweeper; expired entries are
// then only hidden from reads until Sweep is called.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]entry[V]
	now     func() time.Time
	onEvict func(key K, value V)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTTLStore creates a store swept every interval.
func NewTTLStore[K comparable, V any](interval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:  make(map[K]entry[V]),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

// SetClock replaces the time source. Intended for tests.
func (s *TTLStore[K, V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetOnEvict sets the callback run, outside the lock, for swept entries.
func (s *TTLStore[K, V]) SetOnEvict(fn func(key K, value V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Set stores value under key for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Get returns the value for key if present and not expired.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok || !s.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key and reports whether it was present.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns the number of unexpired entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, e := range s.items {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Sweep removes expired entries and runs the eviction callback for each.
func (s *TTLStore[K, V]) Sweep() int {
	type evicted struct {
		key   K
		value V
	}

	s.mu.Lock()
	now := s.now()
	var gone []evicted
	for k, e := range s.items {
		if !now.Before(e.expiresAt) {
			gone = append(gone, evicted{k, e.value})
			delete(s.items, k)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, g := range gone {
			onEvict(g.key, g.value)
		}
	}
	return len(gone)
}

// Close stops the sweeper. It is safe to call more than once.
func (s *TTLStore[K, V]) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *TTLStore[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}
