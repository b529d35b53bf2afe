package repository

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const sqliteKVSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteKVStore keeps entries in a single-table SQLite database.
type SQLiteKVStore struct {
	pool     *sqlitex.Pool
	path     string
	watchers kvWatchers
}

func OpenSQLiteKVStore(path string) (*SQLiteKVStore, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store at %s: %w", path, err)
	}
	logger.Info("sqlite store opened: path=%s", path)
	return &SQLiteKVStore{pool: pool, path: path}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteKVSchema, nil)
}

func (s *SQLiteKVStore) GetString(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, apperrors.Internal("Failed to open local store", err)
	}
	defer s.pool.Put(conn)

	var (
		value string
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, apperrors.Internal("Failed to read local store", err)
	}
	return value, found, nil
}

func (s *SQLiteKVStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperrors.Internal("Failed to open local store", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, time.Now().UnixMilli()}},
	)
	if err != nil {
		return apperrors.Internal("Failed to write local store", err)
	}
	s.watchers.notify(key, value, true)
	return nil
}

func (s *SQLiteKVStore) Remove(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperrors.Internal("Failed to open local store", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
		return apperrors.Internal("Failed to delete from local store", err)
	}
	s.watchers.notify(key, "", false)
	return nil
}

func (s *SQLiteKVStore) OnChange(key string, fn func(string, bool)) func() {
	return s.watchers.add(key, fn)
}

func (s *SQLiteKVStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("closing sqlite store at %s: %w", s.path, err)
	}
	logger.Info("sqlite store closed: path=%s", s.path)
	return nil
}
