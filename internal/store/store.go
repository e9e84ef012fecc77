package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS kv_slots (
			name       TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	)
	if err != nil {
		return fmt.Errorf("migrate kv_slots: %w", err)
	}
	return nil
}

// Slot returns a named slot backed by the kv_slots table.
func (s *Store) Slot(name string) *PostgresSlot {
	return &PostgresSlot{pool: s.pool, name: name}
}

type PostgresSlot struct {
	pool *pgxpool.Pool
	name string
}

func (p *PostgresSlot) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_slots WHERE name = $1`,
		p.name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %s: %w", p.name, err)
	}
	return value, nil
}

func (p *PostgresSlot) Save(ctx context.Context, data []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kv_slots (name, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = NOW()`,
		p.name, string(data),
	)
	if err != nil {
		return fmt.Errorf("save slot %s: %w", p.name, err)
	}
	return nil
}

func (p *PostgresSlot) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv_slots WHERE name = $1`, p.name); err != nil {
		return fmt.Errorf("clear slot %s: %w", p.name, err)
	}
	return nil
}
