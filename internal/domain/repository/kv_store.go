package repository

import "context"

// KVStore is a durable string store that survives process restarts.
type KVStore interface {
	// GetString returns ok=false when the key is absent.
	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	// OnChange registers fn for writes and removals of key. fn receives
	// ok=false after a removal. The returned func unregisters fn.
	OnChange(key string, fn func(value string, ok bool)) (unsubscribe func())
}
