package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Set("k", []byte("v"), time.Minute)

	got, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestExpiredEntryIsGone(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestSetRefreshesTTL(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Set("k", []byte("v1"), 10*time.Millisecond)
	s.Set("k", []byte("v2"), time.Minute)
	time.Sleep(30 * time.Millisecond)

	got, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestDelete(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Set("k", []byte("v"), time.Minute)
	s.Delete("k")

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestJanitorSweepsExpired(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	defer s.Close()

	s.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	_, ok := s.Get("k")
	assert.False(t, ok)
}
