package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const pebbleKeyPrefix = "kv:"

// PebbleKVStore keeps entries in an embedded pebble database. Every write
// is synced before it returns.
type PebbleKVStore struct {
	db       *pebble.DB
	path     string
	watchers kvWatchers
}

func OpenPebbleKVStore(path string) (*PebbleKVStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble open failed: path=%s error=%v", path, err)
		return nil, fmt.Errorf("opening pebble store at %s: %w", path, err)
	}
	logger.Info("pebble store opened: path=%s", path)
	return &PebbleKVStore{db: db, path: path}, nil
}

func (s *PebbleKVStore) GetString(ctx context.Context, key string) (string, bool, error) {
	value, closer, err := s.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Internal("Failed to read local store", err)
	}
	out := string(value)
	if err := closer.Close(); err != nil {
		logger.Warn("pebble: closing value for %s: %v", key, err)
	}
	return out, true, nil
}

func (s *PebbleKVStore) Set(ctx context.Context, key, value string) error {
	if err := s.db.Set(pebbleKey(key), []byte(value), pebble.Sync); err != nil {
		return apperrors.Internal("Failed to write local store", err)
	}
	s.watchers.notify(key, value, true)
	return nil
}

func (s *PebbleKVStore) Remove(ctx context.Context, key string) error {
	if err := s.db.Delete(pebbleKey(key), pebble.Sync); err != nil {
		return apperrors.Internal("Failed to delete from local store", err)
	}
	s.watchers.notify(key, "", false)
	return nil
}

func (s *PebbleKVStore) OnChange(key string, fn func(string, bool)) func() {
	return s.watchers.add(key, fn)
}

func (s *PebbleKVStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing pebble store at %s: %w", s.path, err)
	}
	logger.Info("pebble store closed: path=%s", s.path)
	return nil
}

func pebbleKey(key string) []byte {
	return []byte(pebbleKeyPrefix + key)
}
