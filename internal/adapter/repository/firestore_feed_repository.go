package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

type firestoreMessage struct {
	ClientMessageID string     `firestore:"clientMessageId"`
	Text            string     `firestore:"text,omitempty"`
	Image           string     `firestore:"image,omitempty"`
	User            string     `firestore:"user"`
	CreatedAt       *time.Time `firestore:"createdAt"`
}

type firestoreFeedRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreFeedRepository returns a feed backed by one Firestore
// collection. Documents are keyed by client message id, so a retried
// append lands on the same document.
func NewFirestoreFeedRepository(client *firestore.Client, collection string) repository.MessageFeed {
	return &firestoreFeedRepository{
		client:     client,
		collection: collection,
	}
}

func (r *firestoreFeedRepository) Append(ctx context.Context, msg entity.OutgoingMessage) error {
	fields := map[string]interface{}{
		"clientMessageId": msg.ClientMessageID,
		"user":            msg.Author,
		"createdAt":       firestore.ServerTimestamp,
	}
	if msg.Text != "" {
		fields["text"] = msg.Text
	}
	if msg.Attachment != "" {
		fields["image"] = msg.Attachment
	}

	_, err := r.client.Collection(r.collection).Doc(msg.ClientMessageID).Create(ctx, fields)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Firestore feed: %s already appended", msg.ClientMessageID)
			return nil
		}
		return errors.Internal("Failed to append message", err)
	}
	return nil
}

func (r *firestoreFeedRepository) SubscribeOrdered(ctx context.Context, onSnapshot func(entity.FeedSnapshot), onError func(error)) func() {
	ctx, cancel := context.WithCancel(ctx)
	query := r.client.Collection(r.collection).OrderBy("createdAt", firestore.Asc)

	go resubscribe(ctx, func(ctx context.Context) bool {
		return r.listen(ctx, query, onSnapshot, onError)
	})

	return cancel
}

// listen runs one snapshot listener until it fails or ctx ends. It reports
// whether at least one snapshot was delivered.
func (r *firestoreFeedRepository) listen(ctx context.Context, query firestore.Query, onSnapshot func(entity.FeedSnapshot), onError func(error)) bool {
	it := query.Snapshots(ctx)
	defer it.Stop()

	delivered := false
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || err == iterator.Done || status.Code(err) == codes.Canceled {
				return delivered
			}
			onError(err)
			return delivered
		}

		msgs, err := decodeFirestoreMessages(snap.Documents)
		if err != nil {
			onError(err)
			return delivered
		}
		delivered = true
		onSnapshot(entity.FeedSnapshot{Messages: msgs})
	}
}

func decodeFirestoreMessages(docs *firestore.DocumentIterator) ([]entity.Message, error) {
	defer docs.Stop()

	var msgs []entity.Message
	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		var fm firestoreMessage
		if err := doc.DataTo(&fm); err != nil {
			logger.Warn("Firestore feed: skipping malformed message %s: %v", doc.Ref.ID, err)
			continue
		}

		msg := entity.Message{
			ID:              doc.Ref.ID,
			ClientMessageID: fm.ClientMessageID,
			Author:          fm.User,
			Text:            fm.Text,
			Attachment:      fm.Image,
		}
		if fm.CreatedAt != nil {
			msg.CreatedAt = entity.ServerTimestamp(*fm.CreatedAt)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
