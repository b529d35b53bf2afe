package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// OutboxKey is the durable-store key holding the queued messages.
const OutboxKey = "offline_queue"

// Outbox is the durable, insertion-ordered queue of messages composed
// locally and not yet confirmed by the feed. The whole sequence is written
// under OutboxKey after every mutation.
type Outbox struct {
	store repository.KVStore
	key   string

	mu    sync.Mutex
	items []entity.Message
	// written is the durable value as of the last Load or successful
	// write ("" when absent); nil until then. Guarded by mu.
	written *string

	// writing is set while this Outbox is inside a store write. Stores
	// may notify synchronously from Set while mu is held.
	writing atomic.Bool
}

func NewOutbox(store repository.KVStore) *Outbox {
	return &Outbox{
		store: store,
		key:   OutboxKey,
	}
}

// Load reads the persisted queue and makes it the in-memory state. An
// absent or malformed entry yields an empty queue.
func (o *Outbox) Load(ctx context.Context) []entity.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, ok, err := o.store.GetString(ctx, o.key)
	if err != nil {
		logger.Error("Outbox: failed to read %s: %v", o.key, err)
		return cloneMessages(o.items)
	}
	if !ok {
		raw = ""
	}
	o.written = &raw

	items, err := decodeOutbox(raw)
	if err != nil {
		logger.Warn("Outbox: %v", errors.MalformedPersistedData(o.key, err))
	}
	o.items = items
	return cloneMessages(items)
}

// Watch replaces the in-memory queue whenever another writer changes the
// durable entry, then calls onExternal. Changes made by this Outbox are
// ignored.
//
// The notified value is only a hint: stores may deliver it late, so the
// entry is re-read under the lock and compared with the last value this
// Outbox wrote.
func (o *Outbox) Watch(onExternal func()) (unsubscribe func()) {
	return o.store.OnChange(o.key, func(string, bool) {
		if o.writing.Load() {
			return
		}
		if o.reloadExternal() {
			onExternal()
		}
	})
}

func (o *Outbox) reloadExternal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, ok, err := o.store.GetString(context.Background(), o.key)
	if err != nil {
		logger.Warn("Outbox: failed to read %s after change: %v", o.key, err)
		return false
	}
	if !ok {
		raw = ""
	}
	if o.written != nil && *o.written == raw {
		return false
	}

	items, err := decodeOutbox(raw)
	if err != nil {
		logger.Warn("Outbox: ignoring external change: %v", errors.MalformedPersistedData(o.key, err))
		return false
	}
	o.items = items
	o.written = &raw

	logger.Info("Outbox: reloaded %d messages changed by another writer", len(items))
	return true
}

// Persist writes seq as the new durable and in-memory state. An empty seq
// removes the entry.
func (o *Outbox) Persist(ctx context.Context, seq []entity.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persistLocked(ctx, cloneMessages(seq))
}

// Append adds msg to the tail. When the durable write fails the message is
// still kept in memory so it is flushed in this session; the next
// successful write catches the durable copy up.
func (o *Outbox) Append(ctx context.Context, msg entity.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg.Pending = true
	next := append(cloneMessages(o.items), msg)
	return o.persistLocked(ctx, next)
}

// RemoveByClientMessageID drops the entry with the given client id.
func (o *Outbox) RemoveByClientMessageID(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, m := range o.items {
		if m.ClientMessageID != id {
			continue
		}
		next := make([]entity.Message, 0, len(o.items)-1)
		next = append(next, o.items[:i]...)
		next = append(next, o.items[i+1:]...)
		return true, o.persistLocked(ctx, next)
	}
	return false, nil
}

// RemoveConfirmed drops every entry whose client id is in confirmed and
// reports how many were removed.
func (o *Outbox) RemoveConfirmed(ctx context.Context, confirmed map[string]struct{}) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := make([]entity.Message, 0, len(o.items))
	for _, m := range o.items {
		if _, ok := confirmed[m.ClientMessageID]; ok {
			continue
		}
		next = append(next, m)
	}
	removed := len(o.items) - len(next)
	if removed == 0 {
		return 0, nil
	}
	return removed, o.persistLocked(ctx, next)
}

// Snapshot returns a copy of the queue for readers.
func (o *Outbox) Snapshot() []entity.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneMessages(o.items)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// persistLocked commits next in memory and then writes it. The in-memory
// queue stays committed when the write fails.
func (o *Outbox) persistLocked(ctx context.Context, next []entity.Message) error {
	o.items = next

	o.writing.Store(true)
	defer o.writing.Store(false)

	if len(next) == 0 {
		if err := o.store.Remove(ctx, o.key); err != nil {
			logger.Error("Outbox: failed to remove %s: %v", o.key, err)
			return errors.Internal("Failed to clear outbox", err)
		}
		empty := ""
		o.written = &empty
		return nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return errors.Internal("Failed to encode outbox", err)
	}
	encoded := string(data)
	if err := o.store.Set(ctx, o.key, encoded); err != nil {
		logger.Error("Outbox: failed to write %d messages: %v", len(next), err)
		return errors.Internal("Failed to persist outbox", err)
	}
	o.written = &encoded
	return nil
}

// decodeOutbox parses a persisted queue. Entries are always pending, and
// entries written before client ids existed use their id as one.
func decodeOutbox(raw string) ([]entity.Message, error) {
	if raw == "" {
		return nil, nil
	}
	var items []entity.Message
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Pending = true
		if items[i].ClientMessageID == "" {
			items[i].ClientMessageID = items[i].ID
		}
	}
	return items, nil
}

func cloneMessages(in []entity.Message) []entity.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]entity.Message, len(in))
	copy(out, in)
	return out
}
