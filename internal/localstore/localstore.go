// Package localstore is the client-local persistent string store. It backs
// the keystore's secret-key cache; nothing else touches it.
package localstore

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("localstore: key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type (
	// MemoryStore keeps values in-process. Used by tests and as a
	// fallback when no redis is configured.
	MemoryStore struct {
		mu     sync.Mutex
		values map[string]string
	}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
