package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/adapter/repository"
	"chatsync/internal/domain/entity"
	domainrepo "chatsync/internal/domain/repository"
	apperrors "chatsync/pkg/errors"
)

type harness struct {
	r       *Reconciler
	store   domainrepo.KVStore
	feed    *fakeFeed
	monitor *fakeMonitor
	notices *noticeLog
	metrics *countingMetrics
}

func newHarness(t *testing.T, store domainrepo.KVStore, feed *fakeFeed) *harness {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryKVStore()
	}
	if feed == nil {
		feed = newFakeFeed()
	}
	h := &harness{
		store:   store,
		feed:    feed,
		monitor: &fakeMonitor{},
		notices: &noticeLog{},
		metrics: newCountingMetrics(),
	}
	h.r = NewReconciler(NewOutbox(store), feed, NewHistoryCache(store), "ana", ReconcilerOptions{
		TransmitTimeout: time.Second,
		IDs:             &seqIDs{},
		Metrics:         h.metrics,
		Now:             func() time.Time { return time.UnixMilli(1700000000000) },
	})
	h.r.SubscribeNotices(h.notices.record)
	h.r.Start(context.Background(), h.monitor)
	t.Cleanup(h.r.Close)
	return h
}

func (h *harness) persisted(t *testing.T) []entity.Message {
	t.Helper()
	_, ok, err := h.store.GetString(context.Background(), OutboxKey)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	return NewOutbox(h.store).Load(context.Background())
}

func TestReconciler_OfflineSendQueuesAndReconnectFlushes(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monitor.set(false)
	res, err := h.r.SendMessage(ctx, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, entity.SendQueued, res.Status)
	require.NotNil(t, res.Message)
	assert.True(t, res.Message.Pending)
	assert.Equal(t, "cid-1", res.Message.ClientMessageID)
	assert.Equal(t, "local-1", res.Message.ID)
	assert.Equal(t, entity.TimestampLocal, res.Message.CreatedAt.Kind())
	assert.Zero(t, h.feed.callCount())

	queued := h.persisted(t)
	require.Len(t, queued, 1)
	assert.Equal(t, "hello", queued[0].Text)
	assert.True(t, queued[0].Pending)

	h.monitor.set(true)
	h.r.Wait()

	assert.Equal(t, []string{"hello"}, h.feed.texts())
	assert.Zero(t, h.r.PendingCount())
	assert.Nil(t, h.persisted(t))
	assert.Equal(t, []entity.NoticeEvent{
		entity.EventQueued,
		entity.EventReconnected,
		entity.EventSynced,
	}, h.notices.all())
}

func TestReconciler_PartialFlushKeepsFailedMessage(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monitor.set(false)
	_, err := h.r.SendMessage(ctx, "a", "")
	require.NoError(t, err)
	_, err = h.r.SendMessage(ctx, "b", "")
	require.NoError(t, err)

	h.feed.fail("b", true)
	h.monitor.set(true)
	h.r.Wait()

	left := h.persisted(t)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].Text)
	assert.Equal(t, []string{"a"}, h.feed.texts())
	assert.Zero(t, h.notices.count(entity.EventSynced))

	h.feed.fail("b", false)
	report := h.r.Flush(ctx)
	assert.Equal(t, FlushReport{Sent: 1}, report)
	assert.Nil(t, h.persisted(t))
	assert.Equal(t, []string{"a", "b"}, h.feed.texts())
	assert.Equal(t, 1, h.notices.count(entity.EventSynced))
}

func TestReconciler_CorruptedOutboxStartsEmpty(t *testing.T) {
	store := repository.NewMemoryKVStore()
	require.NoError(t, store.Set(context.Background(), OutboxKey, "%%% not json"))

	var h *harness
	require.NotPanics(t, func() {
		h = newHarness(t, store, nil)
	})
	assert.Zero(t, h.r.PendingCount())
	assert.Empty(t, h.r.CurrentVisibleMessages())
}

func TestReconciler_EmptyMessageIsRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.monitor.set(true)

	for _, text := range []string{"", "   \n\t"} {
		res, err := h.r.SendMessage(context.Background(), text, "")
		assert.Equal(t, entity.SendEmptyMessage, res.Status)
		assert.Nil(t, res.Message)
		assert.True(t, apperrors.Is(err, apperrors.CodeEmptyMessage))
	}
	assert.Zero(t, h.feed.callCount())
	assert.Zero(t, h.r.PendingCount())
	assert.Empty(t, h.notices.all())
}

func TestReconciler_AttachmentOnlyIsAccepted(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.monitor.set(true)

	res, err := h.r.SendMessage(context.Background(), "", "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, entity.SendSent, res.Status)
}

func TestReconciler_OnlineSendGoesStraightToFeed(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.monitor.set(true)

	res, err := h.r.SendMessage(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, entity.SendSent, res.Status)
	assert.Equal(t, res.Message.ClientMessageID, res.Message.ID)
	assert.False(t, res.Message.Pending)
	assert.Equal(t, "ana", res.Message.Author)

	assert.Equal(t, []string{"hi"}, h.feed.texts())
	assert.Zero(t, h.r.PendingCount())
	assert.Empty(t, h.notices.all())
	assert.Equal(t, 1, h.metrics.transmits["direct/true"])
}

func TestReconciler_OnlineSendFailureQueues(t *testing.T) {
	feed := newFakeFeed()
	feed.fail("hi", true)
	h := newHarness(t, nil, feed)
	h.monitor.set(true)

	res, err := h.r.SendMessage(context.Background(), "hi", "")
	assert.True(t, apperrors.Is(err, apperrors.CodeTransmitFailed))
	assert.Equal(t, entity.SendTransmitFailed, res.Status)
	require.NotNil(t, res.Message)
	assert.True(t, res.Message.Pending)

	assert.Equal(t, 1, h.r.PendingCount())
	assert.Len(t, h.persisted(t), 1)
	assert.Equal(t, []entity.NoticeEvent{entity.EventQueued}, h.notices.all())
}

func TestReconciler_UnknownToOnlineIsSilent(t *testing.T) {
	h := newHarness(t, nil, nil)

	assert.Equal(t, entity.ConnectivityUnknown, h.r.ConnectivityStatus())
	h.monitor.set(true)
	h.r.Wait()

	assert.Equal(t, entity.ConnectivityOnline, h.r.ConnectivityStatus())
	assert.Empty(t, h.notices.all())
	assert.Zero(t, h.feed.callCount())
}

func TestReconciler_TransitionNotices(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.monitor.set(true)
	h.monitor.set(false)
	h.monitor.set(true)
	h.r.Wait()

	assert.Equal(t, []entity.NoticeEvent{
		entity.EventDisconnected,
		entity.EventReconnected,
	}, h.notices.all())

	// Repeated readings announce nothing new.
	h.monitor.set(true)
	h.monitor.set(false)
	h.monitor.set(false)
	h.r.Wait()

	assert.Equal(t, 1, h.notices.count(entity.EventReconnected))
	assert.Equal(t, 2, h.notices.count(entity.EventDisconnected))
}

func TestReconciler_FirstReadingOfflineIsSilent(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.monitor.set(false)
	assert.Empty(t, h.notices.all())

	h.monitor.set(true)
	h.r.Wait()
	assert.Equal(t, []entity.NoticeEvent{entity.EventReconnected}, h.notices.all())
}

func TestReconciler_EmptyFlushIsNotSynced(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.monitor.set(false)
	h.monitor.set(true)
	h.r.Wait()

	assert.Zero(t, h.notices.count(entity.EventSynced))
}

func TestReconciler_ConcurrentFlushIsSkipped(t *testing.T) {
	feed := newFakeFeed()
	h := newHarness(t, nil, feed)
	ctx := context.Background()

	h.monitor.set(false)
	_, err := h.r.SendMessage(ctx, "a", "")
	require.NoError(t, err)

	gate := make(chan struct{})
	feed.mu.Lock()
	feed.gate = gate
	feed.mu.Unlock()

	h.monitor.set(true)
	require.Eventually(t, func() bool { return feed.callCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, FlushReport{Skipped: true}, h.r.Flush(ctx))

	close(gate)
	h.r.Wait()

	assert.Equal(t, []string{"a"}, feed.texts())
	assert.Zero(t, h.r.PendingCount())
}

func TestReconciler_RepeatedFlushDoesNotResend(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monitor.set(false)
	_, err := h.r.SendMessage(ctx, "a", "")
	require.NoError(t, err)

	assert.Equal(t, FlushReport{Sent: 1}, h.r.Flush(ctx))
	assert.Equal(t, FlushReport{}, h.r.Flush(ctx))
	assert.Equal(t, []string{"a"}, h.feed.texts())
}

func TestReconciler_OutboxSurvivesRestart(t *testing.T) {
	store := repository.NewMemoryKVStore()
	ctx := context.Background()

	first := newHarness(t, store, nil)
	first.monitor.set(false)
	for _, text := range []string{"a", "b", "c"} {
		_, err := first.r.SendMessage(ctx, text, "")
		require.NoError(t, err)
	}
	before := first.r.CurrentVisibleMessages()
	first.r.Close()

	feed := newFakeFeed()
	second := newHarness(t, store, feed)

	assert.Equal(t, 3, second.r.PendingCount())
	assert.Equal(t, before, second.r.CurrentVisibleMessages())

	// Starting online is not a reconnect, so nothing is flushed yet.
	second.monitor.set(true)
	second.r.Wait()
	assert.Zero(t, feed.callCount())

	assert.Equal(t, FlushReport{Sent: 3}, second.r.Flush(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, feed.texts())
}

func TestReconciler_PeriodicFlushDrainsAfterRestart(t *testing.T) {
	store := repository.NewMemoryKVStore()
	ctx := context.Background()
	require.NoError(t, NewOutbox(store).Persist(ctx, []entity.Message{msg("c1", "left over")}))

	h := newHarness(t, store, nil)
	h.monitor.set(true)

	h.r.StartPeriodicFlush(10 * time.Millisecond)

	require.Eventually(t, func() bool { return h.r.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"left over"}, h.feed.texts())
}

func TestReconciler_CloseWaitsForPeriodicFlush(t *testing.T) {
	store := newFlakyStore()
	ctx := context.Background()
	require.NoError(t, NewOutbox(store).Persist(ctx, []entity.Message{msg("c1", "left over")}))

	feed := newFakeFeed()
	feed.gate = make(chan struct{})
	h := newHarness(t, store, feed)
	h.monitor.set(true)
	h.r.StartPeriodicFlush(5 * time.Millisecond)

	require.Eventually(t, func() bool { return feed.callCount() > 0 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		h.r.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a periodic flush was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(feed.gate)
	<-closed

	// Nothing writes to the store once Close has returned.
	writes := store.writeCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, writes, store.writeCount())
	assert.Empty(t, h.persisted(t))
}

func TestReconciler_FeedSnapshotConfirmsQueuedMessages(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monitor.set(false)
	_, err := h.r.SendMessage(ctx, "a", "")
	require.NoError(t, err)
	_, err = h.r.SendMessage(ctx, "b", "")
	require.NoError(t, err)

	// Another device or a previous session already delivered "a".
	h.r.ObserveFeedSnapshot(entity.FeedSnapshot{Messages: []entity.Message{
		{ID: "cid-1", ClientMessageID: "cid-1", Author: "ana", Text: "a", CreatedAt: entity.ServerTimestamp(time.Unix(1700000000, 0))},
	}})

	visible := h.r.CurrentVisibleMessages()
	assert.Equal(t, []string{"a", "b"}, texts(visible))
	assert.False(t, visible[0].Pending)
	assert.True(t, visible[1].Pending)
	assert.Equal(t, 1, h.r.PendingCount())

	cached := NewHistoryCache(h.store).Load(ctx)
	require.Len(t, cached, 1)
	assert.Equal(t, "a", cached[0].Text)
}

func TestReconciler_FromCacheSnapshotIsNotPersisted(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.r.ObserveFeedSnapshot(entity.FeedSnapshot{
		Messages:  []entity.Message{{ID: "f1", Text: "x"}},
		FromCache: true,
	})

	assert.Len(t, h.r.CurrentVisibleMessages(), 1)
	assert.Empty(t, NewHistoryCache(h.store).Load(context.Background()))
}

func TestReconciler_CachedHistoryRendersBeforeFeed(t *testing.T) {
	store := repository.NewMemoryKVStore()
	require.NoError(t, NewHistoryCache(store).Save(context.Background(), []entity.Message{
		{ID: "f1", ClientMessageID: "c1", Text: "from last session"},
	}))

	h := newHarness(t, store, nil)
	assert.Equal(t, []string{"from last session"}, texts(h.r.CurrentVisibleMessages()))
}

func TestReconciler_FeedErrorNoticeOncePerStreak(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.r.ObserveFeedSnapshot(entity.FeedSnapshot{Messages: []entity.Message{{ID: "f1", Text: "kept"}}})

	h.r.ObserveFeedError(assert.AnError)
	h.r.ObserveFeedError(assert.AnError)
	assert.Equal(t, 1, h.notices.count(entity.EventFeedError))
	assert.Equal(t, []string{"kept"}, texts(h.r.CurrentVisibleMessages()))

	h.r.ObserveFeedSnapshot(entity.FeedSnapshot{Messages: []entity.Message{{ID: "f1", Text: "kept"}}})
	h.r.ObserveFeedError(assert.AnError)
	assert.Equal(t, 2, h.notices.count(entity.EventFeedError))
}

func TestReconciler_StoreWriteFailureStillQueues(t *testing.T) {
	store := newFlakyStore()
	h := newHarness(t, store, nil)
	ctx := context.Background()

	h.monitor.set(false)
	store.setFailWrite(true)
	res, err := h.r.SendMessage(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, entity.SendQueued, res.Status)
	assert.Equal(t, 1, h.r.PendingCount())

	store.setFailWrite(false)
	h.monitor.set(true)
	h.r.Wait()
	assert.Equal(t, []string{"a"}, h.feed.texts())
	assert.Zero(t, h.r.PendingCount())
}

func TestReconciler_SubscribeMessagesSeesQueuedAndConfirmed(t *testing.T) {
	h := newHarness(t, nil, nil)

	var updates [][]entity.Message
	unsubscribe := h.r.SubscribeMessages(func(msgs []entity.Message) {
		updates = append(updates, msgs)
	})

	h.monitor.set(false)
	_, err := h.r.SendMessage(context.Background(), "a", "")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0][0].Pending)

	unsubscribe()
	_, err = h.r.SendMessage(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}
