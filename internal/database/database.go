// Package database opens the Postgres pool and applies the embedded schema
// migrations.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

//go:embed migrations/*.sql
var migrations embed.FS

var connectBackoff = util.Backoff{Attempts: 5, Base: 500 * time.Millisecond, Max: 4 * time.Second}

// Connect opens a pool with the pgvector types registered on every
// connection and waits until the database answers a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, common.InvalidConfig("DATABASE_URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, common.InvalidConfig("invalid DATABASE_URL: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, common.StoreError("open pool", err)
	}

	err = util.RetryErr(ctx, connectBackoff, func(ctx context.Context) error {
		err := pool.Ping(ctx)
		if err != nil {
			logger.Warn("[Database] Ping failed", "err", err)
		}
		return err
	})
	if err != nil {
		pool.Close()
		return nil, common.StoreError("ping", err)
	}
	return pool, nil
}

// Migrate applies every pending up migration. It is a no-op when the
// schema is current.
func Migrate(url string) error {
	m, err := newMigrate(url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("[Database] Schema is up to date", "version", version, "dirty", dirty)
	return nil
}

// MigrateDown reverts the last n migrations.
func MigrateDown(url string, n int) error {
	if n <= 0 {
		return common.InvalidConfig("number of migrations to revert must be positive")
	}
	m, err := newMigrate(url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-n); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

func newMigrate(url string) (*migrate.Migrate, error) {
	if url == "" {
		return nil, common.InvalidConfig("DATABASE_URL is empty")
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, common.StoreError("open migrations", err)
	}
	return m, nil
}
