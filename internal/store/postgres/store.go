package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"stakebridge/internal/model"
)

// Store provides Postgres persistence for operation history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordOperation inserts one workflow invocation.
func (s *Store) RecordOperation(ctx context.Context, rec model.OperationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operations (
			id, kind, amount, bridge_tx, status, detail, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.Kind,
		rec.Amount,
		rec.BridgeTx,
		rec.Status,
		rec.Detail,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// Schema is the DDL for the operations table.
const Schema = `
CREATE TABLE IF NOT EXISTS operations (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	amount      TEXT NOT NULL DEFAULT '',
	bridge_tx   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the operations table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
