package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// EntityDBStorage implements store.EntityRepository and store.TagRepository
// on PostgreSQL with pgvector. The pool must have the pgvector types
// registered.
type EntityDBStorage struct {
	conn      pgxIConn
	chunkSize int
}

type EntityDBStorageOption func(*EntityDBStorage)

// WithChunkSize sets how many rows a bulk write sends per statement.
func WithChunkSize(n int) EntityDBStorageOption {
	return func(s *EntityDBStorage) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewEntityDBStorageWithConnection creates an EntityDBStorage on an existing
// pool or connection.
func NewEntityDBStorageWithConnection(conn pgxIConn, opts ...EntityDBStorageOption) *EntityDBStorage {
	s := &EntityDBStorage{
		conn:      conn,
		chunkSize: 1000,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
