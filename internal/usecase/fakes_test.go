package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/adapter/repository"
	"chatsync/internal/domain/entity"
	domainrepo "chatsync/internal/domain/repository"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a real store and can be told to fail reads or writes.
type flakyStore struct {
	domainrepo.KVStore

	mu        sync.Mutex
	failGet   bool
	failWrite bool
	writes    int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{KVStore: repository.NewMemoryKVStore()}
}

func (s *flakyStore) setFailWrite(v bool) {
	s.mu.Lock()
	s.failWrite = v
	s.mu.Unlock()
}

func (s *flakyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *flakyStore) GetString(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return "", false, errStoreDown
	}
	return s.KVStore.GetString(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	fail := s.failWrite
	s.writes++
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.KVStore.Set(ctx, key, value)
}

func (s *flakyStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := s.failWrite
	s.writes++
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.KVStore.Remove(ctx, key)
}

// laggingStore queues change notifications instead of delivering them
// from Set, the way a keyspace subscription delivers them on its own
// goroutine after a read-back.
type laggingStore struct {
	domainrepo.KVStore

	mu          sync.Mutex
	fn          func(string, bool)
	queued      []string
	duringWrite bool
}

func newLaggingStore() *laggingStore {
	return &laggingStore{KVStore: repository.NewMemoryKVStore()}
}

func (s *laggingStore) OnChange(key string, fn func(string, bool)) func() {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.fn = nil
		s.mu.Unlock()
	}
}

// deliverDuringNextWrite makes the next Set hand out the queued
// notifications from another goroutine before it writes.
func (s *laggingStore) deliverDuringNextWrite() {
	s.mu.Lock()
	s.duringWrite = true
	s.mu.Unlock()
}

func (s *laggingStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	early := s.duringWrite
	s.duringWrite = false
	s.mu.Unlock()

	if early {
		done := make(chan struct{})
		go func() {
			s.deliver()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	if err := s.KVStore.Set(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.queued = append(s.queued, value)
	s.mu.Unlock()
	return nil
}

// deliver hands every queued notification to the subscriber.
func (s *laggingStore) deliver() {
	s.mu.Lock()
	fn, queued := s.fn, s.queued
	s.queued = nil
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, v := range queued {
		fn(v, true)
	}
}

// fakeFeed records appends. Texts listed in failing are rejected; when
// gate is set every Append blocks until it is closed.
type fakeFeed struct {
	mu       sync.Mutex
	appended []entity.OutgoingMessage
	failing  map[string]bool
	gate     chan struct{}
	calls    int

	onSnapshot func(entity.FeedSnapshot)
	onError    func(error)
	subscribed int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{failing: make(map[string]bool)}
}

func (f *fakeFeed) fail(text string, v bool) {
	f.mu.Lock()
	f.failing[text] = v
	f.mu.Unlock()
}

func (f *fakeFeed) Append(ctx context.Context, msg entity.OutgoingMessage) error {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[msg.Text] {
		return fmt.Errorf("append %q: unavailable", msg.Text)
	}
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeFeed) SubscribeOrdered(ctx context.Context, onSnapshot func(entity.FeedSnapshot), onError func(error)) func() {
	f.mu.Lock()
	f.onSnapshot = onSnapshot
	f.onError = onError
	f.subscribed++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.subscribed--
		f.mu.Unlock()
	}
}

func (f *fakeFeed) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.appended))
	for _, m := range f.appended {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// confirmed turns everything appended so far into a feed snapshot.
func (f *fakeFeed) confirmed() entity.FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]entity.Message, 0, len(f.appended))
	for _, m := range f.appended {
		msgs = append(msgs, entity.Message{
			ID:              m.ClientMessageID,
			ClientMessageID: m.ClientMessageID,
			Author:          m.Author,
			Text:            m.Text,
			Attachment:      m.Attachment,
		})
	}
	return entity.FeedSnapshot{Messages: msgs}
}

type fakeMonitor struct {
	mu  sync.Mutex
	fns []func(bool)
}

func (m *fakeMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	m.fns = append(m.fns, fn)
	m.mu.Unlock()
	return func() {}
}

func (m *fakeMonitor) set(online bool) {
	m.mu.Lock()
	fns := append([]func(bool){}, m.fns...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

type noticeLog struct {
	mu     sync.Mutex
	events []entity.NoticeEvent
}

func (l *noticeLog) record(n entity.Notice) {
	l.mu.Lock()
	l.events = append(l.events, n.Event)
	l.mu.Unlock()
}

func (l *noticeLog) all() []entity.NoticeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entity.NoticeEvent(nil), l.events...)
}

func (l *noticeLog) count(event entity.NoticeEvent) int {
	n := 0
	for _, e := range l.all() {
		if e == event {
			n++
		}
	}
	return n
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) ClientMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("cid-%d", s.n)
}

func (s *seqIDs) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("local-%d", s.n)
}

type countingMetrics struct {
	mu        sync.Mutex
	depth     int
	transmits map[string]int
	sent      int
	failed    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{transmits: make(map[string]int)}
}

func (m *countingMetrics) OutboxDepth(n int) {
	m.mu.Lock()
	m.depth = n
	m.mu.Unlock()
}

func (m *countingMetrics) Transmit(path string, ok bool) {
	m.mu.Lock()
	m.transmits[fmt.Sprintf("%s/%t", path, ok)]++
	m.mu.Unlock()
}

func (m *countingMetrics) Flushed(sent, failed int) {
	m.mu.Lock()
	m.sent += sent
	m.failed += failed
	m.mu.Unlock()
}

func (m *countingMetrics) Notice(entity.NoticeEvent) {}
