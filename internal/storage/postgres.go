package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "stockwatch/pkg/logx"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS stock_state (
	product_id TEXT PRIMARY KEY,
	in_stock   BOOLEAN NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the mapping in the stock_state table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("state.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	st, err := NewPostgres(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

// NewPostgres ensures the schema exists. The store owns pool and closes it on Close.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log logx.Logger) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Driver() string { return "postgres" }

func (s *PostgresStore) Load(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT product_id, in_stock FROM stock_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := map[string]bool{}
	for rows.Next() {
		var (
			id      string
			inStock bool
		)
		if err := rows.Scan(&id, &inStock); err != nil {
			return nil, err
		}
		state[id] = inStock
	}
	return state, rows.Err()
}

// Save replaces the table contents in one transaction with a batched insert.
func (s *PostgresStore) Save(ctx context.Context, state map[string]bool) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM stock_state`); err != nil {
		return err
	}
	if len(state) > 0 {
		b := &pgx.Batch{}
		for id, inStock := range state {
			b.Queue(`INSERT INTO stock_state(product_id, in_stock, updated_at) VALUES($1, $2, now())`, id, inStock)
		}
		br := tx.SendBatch(ctx, b)
		for i := 0; i < b.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert state row: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
