package repository

import (
	"context"
	"sync"

	"chatsync/internal/domain/repository"
)

type memoryKVStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers kvWatchers
}

// NewMemoryKVStore returns a process-local store, for tests and for running
// without a data directory.
func NewMemoryKVStore() repository.KVStore {
	return &memoryKVStore{data: make(map[string]string)}
}

func (s *memoryKVStore) GetString(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memoryKVStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	s.watchers.notify(key, value, true)
	return nil
}

func (s *memoryKVStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	s.watchers.notify(key, "", false)
	return nil
}

func (s *memoryKVStore) OnChange(key string, fn func(string, bool)) func() {
	return s.watchers.add(key, fn)
}
