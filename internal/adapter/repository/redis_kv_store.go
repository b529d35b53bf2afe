package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// RedisKVStore keeps entries in Redis under a per-session prefix. Change
// notifications come from Redis keyspace events, so writes made by other
// processes are observed too.
type RedisKVStore struct {
	client *redis.Client
	db     int
	prefix string
}

func NewRedisKVStore(ctx context.Context, client *redis.Client, db int, prefix string) *RedisKVStore {
	// Keyspace events for generic and string commands; managed Redis may
	// refuse CONFIG, in which case OnChange only fires if the server was
	// configured already.
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Kg$").Err(); err != nil {
		logger.Warn("redis: could not enable keyspace events: %v", err)
	}
	return &RedisKVStore{client: client, db: db, prefix: prefix}
}

func (s *RedisKVStore) GetString(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Internal("Failed to read redis store", err)
	}
	return value, true, nil
}

func (s *RedisKVStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return apperrors.Internal("Failed to write redis store", err)
	}
	return nil
}

func (s *RedisKVStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return apperrors.Internal("Failed to delete from redis store", err)
	}
	return nil
}

func (s *RedisKVStore) OnChange(key string, fn func(string, bool)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	channel := fmt.Sprintf("__keyspace@%d__:%s", s.db, s.key(key))
	pubsub := s.client.Subscribe(ctx, channel)

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch msg.Payload {
				case "set":
					value, found, err := s.GetString(ctx, key)
					if err != nil {
						logger.Warn("redis: reading %s after change: %v", key, err)
						continue
					}
					fn(value, found)
				case "del", "expired", "evicted":
					fn("", false)
				}
			}
		}
	}()

	return cancel
}

func (s *RedisKVStore) key(key string) string {
	return s.prefix + key
}
