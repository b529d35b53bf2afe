package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

// MessageFeed is the remote, append-only, ordered message store.
type MessageFeed interface {
	// Append writes a message with a server-assigned timestamp. Appending
	// the same ClientMessageID twice must not create a second message.
	Append(ctx context.Context, msg entity.OutgoingMessage) error

	// SubscribeOrdered delivers ordered snapshots until ctx is done or the
	// returned func is called. onError receives subscription failures; the
	// subscription keeps retrying after reporting them.
	SubscribeOrdered(ctx context.Context, onSnapshot func(entity.FeedSnapshot), onError func(error)) (unsubscribe func())
}
