package usecase

import (
	"context"
	"encoding/json"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// HistoryKey holds the last confirmed feed snapshot, used to render
// something before the live subscription delivers.
const HistoryKey = "cached_messages"

type HistoryCache struct {
	store repository.KVStore
	key   string
}

func NewHistoryCache(store repository.KVStore) *HistoryCache {
	return &HistoryCache{store: store, key: HistoryKey}
}

func (h *HistoryCache) Load(ctx context.Context) []entity.Message {
	raw, ok, err := h.store.GetString(ctx, h.key)
	if err != nil {
		logger.Error("HistoryCache: failed to read %s: %v", h.key, err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var msgs []entity.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		logger.Warn("HistoryCache: %v", errors.MalformedPersistedData(h.key, err))
		return nil
	}
	for i := range msgs {
		msgs[i].Pending = false
	}
	return msgs
}

func (h *HistoryCache) Save(ctx context.Context, msgs []entity.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return errors.Internal("Failed to encode message history", err)
	}
	if err := h.store.Set(ctx, h.key, string(data)); err != nil {
		return errors.Internal("Failed to cache message history", err)
	}
	return nil
}
