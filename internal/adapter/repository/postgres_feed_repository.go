package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const postgresNotifyChannel = "chat_messages"

// PostgresFeedRepository is a self-hosted feed: one table, server-side
// now() timestamps, and LISTEN/NOTIFY to push new snapshots.
type PostgresFeedRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFeedRepository(pool *pgxpool.Pool) *PostgresFeedRepository {
	return &PostgresFeedRepository{pool: pool}
}

func (r *PostgresFeedRepository) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id                TEXT PRIMARY KEY,
			client_message_id TEXT UNIQUE NOT NULL,
			author            TEXT NOT NULL,
			text              TEXT,
			image             TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS chat_messages_created_at ON chat_messages (created_at, id)`,

		`CREATE OR REPLACE FUNCTION notify_chat_message() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + postgresNotifyChannel + `', NEW.id);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS chat_messages_notify ON chat_messages`,

		`CREATE TRIGGER chat_messages_notify AFTER INSERT ON chat_messages
			FOR EACH ROW EXECUTE FUNCTION notify_chat_message()`,
	}

	for _, query := range queries {
		if _, err := r.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (r *PostgresFeedRepository) Append(ctx context.Context, msg entity.OutgoingMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, client_message_id, author, text, image)
		VALUES ($1, $1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (client_message_id) DO NOTHING`,
		msg.ClientMessageID, msg.Author, msg.Text, msg.Attachment,
	)
	if err != nil {
		return errors.Internal("Failed to append message", err)
	}
	return nil
}

func (r *PostgresFeedRepository) SubscribeOrdered(ctx context.Context, onSnapshot func(entity.FeedSnapshot), onError func(error)) func() {
	ctx, cancel := context.WithCancel(ctx)

	go resubscribe(ctx, func(ctx context.Context) bool {
		delivered, err := r.listen(ctx, onSnapshot)
		if err != nil && ctx.Err() == nil {
			onError(err)
		}
		return delivered
	})

	return cancel
}

// listen holds one pooled connection subscribed to the notify channel and
// delivers a fresh snapshot per notification. It reports whether at least
// one snapshot was delivered.
func (r *PostgresFeedRepository) listen(ctx context.Context, onSnapshot func(entity.FeedSnapshot)) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring listener connection: %w", err)
	}
	defer releaseListener(conn)

	if _, err := conn.Exec(ctx, "LISTEN "+postgresNotifyChannel); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}

	delivered := false
	for {
		msgs, err := snapshotMessages(ctx, conn)
		if err != nil {
			return delivered, err
		}
		delivered = true
		onSnapshot(entity.FeedSnapshot{Messages: msgs})

		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return delivered, fmt.Errorf("waiting for notification: %w", err)
		}
		logger.Debug("Postgres feed: change notification received")
	}
}

// releaseListener returns conn to the pool without its subscription. A
// connection that cannot UNLISTEN is closed so the pool discards it.
func releaseListener(conn *pgxpool.Conn) {
	defer conn.Release()
	if conn.Conn().IsClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN "+postgresNotifyChannel); err != nil {
		logger.Warn("Postgres feed: unlisten failed, dropping connection: %v", err)
		conn.Conn().Close(ctx)
	}
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func snapshotMessages(ctx context.Context, q rowQuerier) ([]entity.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT id, client_message_id, author, COALESCE(text, ''), COALESCE(image, ''), created_at
		FROM chat_messages
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []entity.Message
	for rows.Next() {
		var (
			msg       entity.Message
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.ClientMessageID, &msg.Author, &msg.Text, &msg.Attachment, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt = entity.ServerTimestamp(createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
