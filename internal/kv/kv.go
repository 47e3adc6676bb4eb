// Package kv provides a TTL-aware key-value store abstraction. The
// fallback session cache and the staging store are injected as kv.Store
// so they can be backed by the in-memory implementation here or by an
// external cache (Redis or similar) without touching call sites.
package kv

import (
	"sync"
	"time"
)

// Store is a minimal TTL-aware key-value store. Values are opaque bytes
// so implementations can live out of process.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store guarded by a mutex. A janitor
// goroutine sweeps expired entries so abandoned records (e.g. staged
// checkouts) are garbage collected without an explicit cancel signal.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its janitor.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	s := &MemoryStore{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go s.janitor(sweepEvery)
	return s
}

// Get returns the value for key if present and not expired.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.Delete(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero means no expiry.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Delete removes key from the store.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() {
	close(s.done)
}

func (s *MemoryStore) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
