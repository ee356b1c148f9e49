// Package store persists crawl results to PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/extract"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides a PostgreSQL implementation of crawl result persistence.
// Results are append-only: each crawl run inserts a fresh batch of rows
// keyed by run id, so history across runs is preserved.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
    id          UUID PRIMARY KEY,
    site        TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    pages       INT NOT NULL DEFAULT 0,
    item_count  INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS model_items (
    id          UUID PRIMARY KEY,
    run_id      UUID NOT NULL REFERENCES crawl_runs(id),
    site        TEXT NOT NULL,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL,
    page        INT NOT NULL,
    scraped_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS model_items_site_url_idx ON model_items (site, url);
`

// EnsureSchema creates the result tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRun inserts the run record and its items in one transaction. Returns
// the generated run id.
func (s *Store) SaveRun(ctx context.Context, site string, pages int, items []extract.Item) (uuid.UUID, error) {
	runID := uuid.New()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after commit reports ErrTxClosed; that is the normal path.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	const runSQL = `
        INSERT INTO crawl_runs (id, site, started_at, pages, item_count)
        VALUES ($1, $2, $3, $4, $5);
    `
	if _, err := tx.Exec(ctx, runSQL, runID, site, now, pages, len(items)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert crawl run: %w", err)
	}

	if len(items) > 0 {
		rows := make([][]interface{}, len(items))
		for i, it := range items {
			rows[i] = []interface{}{
				uuid.New(), runID, it.Site, it.Name, it.URL, it.Page, now,
			}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"model_items"},
			[]string{"id", "run_id", "site", "name", "url", "page", "scraped_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to copy model items: %w", err)
		}
		if int(copyCount) != len(items) {
			return uuid.Nil, fmt.Errorf("mismatch in copied item count: expected %d, got %d", len(items), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Crawl run persisted.",
		zap.String("run_id", runID.String()),
		zap.String("site", site),
		zap.Int("items", len(items)))
	return runID, nil
}
