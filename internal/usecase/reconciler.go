package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const (
	transmitDirect = "direct"
	transmitFlush  = "flush"
)

type ReconcilerOptions struct {
	// TransmitTimeout bounds a single feed append. Zero means 10s.
	TransmitTimeout time.Duration
	IDs             IDGenerator
	Metrics         Metrics
	Now             func() time.Time
}

// FlushReport summarises one flush pass.
type FlushReport struct {
	Skipped   bool `json:"skipped"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
}

// Reconciler decides, per send and per connectivity change, whether a
// message goes straight to the feed or into the outbox, flushes the outbox
// on reconnect, and merges both for display. One Reconciler serves one
// chat session and is the only writer of its Outbox.
type Reconciler struct {
	outbox  *Outbox
	feed    repository.MessageFeed
	history *HistoryCache
	author  string

	transmitTimeout time.Duration
	ids             IDGenerator
	metrics         Metrics
	now             func() time.Time

	mu          sync.RWMutex
	state       entity.ConnectivityState
	wasOffline  bool
	confirmed   []entity.Message
	feedFailing bool

	flushing atomic.Bool
	bg       sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	unsubs    []func()
	done      chan struct{}
	closeOnce sync.Once

	notices  listeners[entity.Notice]
	messages listeners[[]entity.Message]
}

func NewReconciler(outbox *Outbox, feed repository.MessageFeed, history *HistoryCache, author string, opts ReconcilerOptions) *Reconciler {
	if opts.TransmitTimeout <= 0 {
		opts.TransmitTimeout = 10 * time.Second
	}
	if opts.IDs == nil {
		opts.IDs = uuidIDs{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		outbox:          outbox,
		feed:            feed,
		history:         history,
		author:          author,
		transmitTimeout: opts.TransmitTimeout,
		ids:             opts.IDs,
		metrics:         opts.Metrics,
		now:             opts.Now,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Start rehydrates the outbox and the cached history, then subscribes to
// the feed and, when given, the connectivity monitor.
func (r *Reconciler) Start(ctx context.Context, monitor repository.ConnectivityMonitor) {
	queued := r.outbox.Load(ctx)
	r.metrics.OutboxDepth(len(queued))
	if len(queued) > 0 {
		logger.Info("Reconciler: rehydrated %d queued messages", len(queued))
	}

	if r.history != nil {
		if cached := r.history.Load(ctx); len(cached) > 0 {
			r.mu.Lock()
			r.confirmed = cached
			r.mu.Unlock()
			logger.Debug("Reconciler: rendering %d cached messages until the feed delivers", len(cached))
		}
	}

	r.unsubs = append(r.unsubs, r.outbox.Watch(func() {
		r.metrics.OutboxDepth(r.outbox.Len())
		r.publishMessages()
	}))
	r.unsubs = append(r.unsubs, r.feed.SubscribeOrdered(r.ctx, r.ObserveFeedSnapshot, r.ObserveFeedError))

	if monitor != nil {
		r.unsubs = append(r.unsubs, monitor.Subscribe(func(online bool) {
			r.ObserveConnectivity(entity.ConnectivityFromBool(online))
		}))
	}
}

// Close stops the subscriptions and the periodic flush, then waits for
// background flushes. After Close returns nothing touches the store.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		for i := len(r.unsubs) - 1; i >= 0; i-- {
			r.unsubs[i]()
		}
		r.unsubs = nil
		close(r.done)
		r.bg.Wait()
		r.cancel()
	})
}

// Wait blocks until background flushes started so far have finished.
func (r *Reconciler) Wait() {
	r.bg.Wait()
}

func (r *Reconciler) ConnectivityStatus() entity.ConnectivityState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ObserveConnectivity applies a connectivity reading. Going offline after
// being online announces the disconnect; coming back after any observed
// offline period announces the reconnect and starts a flush without
// blocking the caller. The first online reading announces nothing.
func (r *Reconciler) ObserveConnectivity(next entity.ConnectivityState) {
	var (
		event      entity.NoticeEvent
		startFlush bool
	)

	r.mu.Lock()
	prev := r.state
	r.state = next
	switch next {
	case entity.ConnectivityOffline:
		if prev == entity.ConnectivityOnline {
			event = entity.EventDisconnected
		}
		r.wasOffline = true
	case entity.ConnectivityOnline:
		if r.wasOffline {
			event = entity.EventReconnected
			r.wasOffline = false
			startFlush = true
		}
	}
	r.mu.Unlock()

	if prev != next {
		logger.Info("Reconciler: connectivity %s -> %s", prev, next)
	}
	if event != "" {
		r.emit(event)
	}
	if startFlush {
		r.flushAsync()
	}
}

// SendMessage sends text and an optional attachment. Offline, the message
// is queued without touching the feed. Online, it is appended to the feed
// directly; if that fails it is queued instead and the TransmitFailed
// error is returned alongside the queued message.
func (r *Reconciler) SendMessage(ctx context.Context, text, attachment string) (entity.SendResult, error) {
	msg := entity.Message{
		Author:     r.author,
		Text:       text,
		Attachment: attachment,
	}
	if !msg.HasContent() {
		return entity.SendResult{Status: entity.SendEmptyMessage}, errors.EmptyMessage()
	}
	msg.ClientMessageID = r.ids.ClientMessageID()

	if r.ConnectivityStatus() != entity.ConnectivityOnline {
		queued := r.enqueue(ctx, msg)
		return entity.SendResult{Status: entity.SendQueued, Message: &queued}, nil
	}

	err := r.transmit(ctx, msg, transmitDirect)
	if err == nil {
		msg.ID = msg.ClientMessageID
		return entity.SendResult{Status: entity.SendSent, Message: &msg}, nil
	}

	logger.Warn("Reconciler: direct send of %s failed, queueing: %v", msg.ClientMessageID, err)
	queued := r.enqueue(ctx, msg)
	return entity.SendResult{Status: entity.SendTransmitFailed, Message: &queued}, errors.TransmitFailed(err)
}

// Flush transmits every queued message in order, removing each one as soon
// as the feed accepts it. Failures are skipped, not retried within the
// pass. A flush started while another is running returns immediately with
// Skipped set.
func (r *Reconciler) Flush(ctx context.Context) FlushReport {
	if !r.flushing.CompareAndSwap(false, true) {
		logger.Debug("Reconciler: flush already running")
		return FlushReport{Skipped: true}
	}
	defer r.flushing.Store(false)

	queued := r.outbox.Snapshot()
	if len(queued) == 0 {
		return FlushReport{}
	}
	logger.Info("Reconciler: flushing %d queued messages", len(queued))

	var report FlushReport
	for _, msg := range queued {
		if err := r.transmit(ctx, msg, transmitFlush); err != nil {
			logger.Warn("Reconciler: flush of %s failed: %v", msg.ClientMessageID, err)
			report.Failed++
			continue
		}
		if _, err := r.outbox.RemoveByClientMessageID(ctx, msg.ClientMessageID); err != nil {
			logger.Error("Reconciler: sent %s but could not persist its removal: %v", msg.ClientMessageID, err)
		}
		report.Sent++
	}

	report.Remaining = r.outbox.Len()
	r.metrics.Flushed(report.Sent, report.Failed)
	r.metrics.OutboxDepth(report.Remaining)
	logger.Info("Reconciler: flush done sent=%d failed=%d remaining=%d", report.Sent, report.Failed, report.Remaining)

	if report.Remaining == 0 {
		r.emit(entity.EventSynced)
	}
	r.publishMessages()
	return report
}

// StartPeriodicFlush flushes every interval while online with a non-empty
// outbox, until Close. A non-positive interval disables it.
func (r *Reconciler) StartPeriodicFlush(interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				if r.ConnectivityStatus() == entity.ConnectivityOnline && r.outbox.Len() > 0 {
					r.Flush(r.ctx)
				}
			}
		}
	}()
}

// ObserveFeedSnapshot replaces the confirmed half of the view and drops
// queued messages the feed has already confirmed.
func (r *Reconciler) ObserveFeedSnapshot(snap entity.FeedSnapshot) {
	confirmed := cloneMessages(snap.Messages)

	r.mu.Lock()
	r.confirmed = confirmed
	recovered := r.feedFailing
	r.feedFailing = false
	r.mu.Unlock()

	if recovered {
		logger.Info("Reconciler: feed subscription recovered")
	}

	removed, err := r.outbox.RemoveConfirmed(r.ctx, clientIDSet(confirmed))
	if err != nil {
		logger.Error("Reconciler: failed to persist outbox after feed confirmation: %v", err)
	}
	if removed > 0 {
		logger.Debug("Reconciler: feed confirmed %d queued messages", removed)
		r.metrics.OutboxDepth(r.outbox.Len())
	}

	if r.history != nil && !snap.FromCache {
		if err := r.history.Save(r.ctx, confirmed); err != nil {
			logger.Warn("Reconciler: %v", err)
		}
	}

	r.publishMessages()
}

// ObserveFeedError keeps whatever is on screen and raises one advisory per
// failure streak.
func (r *Reconciler) ObserveFeedError(err error) {
	logger.Warn("Reconciler: %v", errors.FeedSubscription(err))

	r.mu.Lock()
	first := !r.feedFailing
	r.feedFailing = true
	r.mu.Unlock()

	if first {
		r.emit(entity.EventFeedError)
	}
}

// CurrentVisibleMessages returns confirmed messages followed by queued
// ones.
func (r *Reconciler) CurrentVisibleMessages() []entity.Message {
	r.mu.RLock()
	confirmed := r.confirmed
	r.mu.RUnlock()
	return MergeVisible(confirmed, r.outbox.Snapshot())
}

// PendingCount is the number of queued messages.
func (r *Reconciler) PendingCount() int {
	return r.outbox.Len()
}

// SubscribeNotices registers fn for banner notices.
func (r *Reconciler) SubscribeNotices(fn func(entity.Notice)) (unsubscribe func()) {
	return r.notices.add(fn)
}

// SubscribeMessages registers fn for changes of the visible list.
func (r *Reconciler) SubscribeMessages(fn func([]entity.Message)) (unsubscribe func()) {
	return r.messages.add(fn)
}

func (r *Reconciler) enqueue(ctx context.Context, msg entity.Message) entity.Message {
	msg.ID = r.ids.LocalID()
	msg.CreatedAt = entity.LocalTimestamp(r.now().UnixMilli())
	msg.Pending = true

	if err := r.outbox.Append(ctx, msg); err != nil {
		logger.Error("Reconciler: queued %s in memory only: %v", msg.ClientMessageID, err)
	}
	r.metrics.OutboxDepth(r.outbox.Len())
	r.emit(entity.EventQueued)
	r.publishMessages()
	return msg
}

func (r *Reconciler) transmit(ctx context.Context, msg entity.Message, path string) error {
	tctx, cancel := context.WithTimeout(ctx, r.transmitTimeout)
	defer cancel()

	err := r.feed.Append(tctx, msg.Outgoing())
	r.metrics.Transmit(path, err == nil)
	return err
}

func (r *Reconciler) flushAsync() {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		r.Flush(r.ctx)
	}()
}

func (r *Reconciler) emit(event entity.NoticeEvent) {
	n := entity.NewNotice(event, r.now())
	r.metrics.Notice(event)
	r.notices.emit(n)
}

func (r *Reconciler) publishMessages() {
	if r.messages.empty() {
		return
	}
	r.messages.emit(r.CurrentVisibleMessages())
}

type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns) == 0
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
