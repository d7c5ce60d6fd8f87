package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize is the entry limit used when none is configured.
const DefaultMemorySize = 1024

// MemoryStore keeps entries in process memory, evicting the least recently
// used entry once Size is reached and dropping entries older than TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, *Entry]
}

// NewMemoryStore creates a memory store. size <= 0 selects
// DefaultMemorySize; ttl <= 0 disables expiry.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemoryStore{lru: expirable.NewLRU[string, *Entry](size, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Entry, bool, error) {
	e, ok := s.lru.Get(key.Digest())
	if !ok || !e.Key.Equal(key) {
		return nil, false, nil
	}
	return e.clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, entry *Entry) error {
	s.lru.Add(entry.Key.Digest(), entry.clone())
	return nil
}

func (s *MemoryStore) Has(_ context.Context, key Key) (bool, error) {
	return s.lru.Contains(key.Digest()), nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) (bool, error) {
	return s.lru.Remove(key.Digest()), nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.lru.Purge()
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
