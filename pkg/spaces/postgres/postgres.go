// Package postgres provides a PostgreSQL implementation of spaces.Store.
// Canvases are stored as JSONB, one row per space.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/spaces"
)

// Store is a PostgreSQL-backed spaces.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ spaces.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, now: time.Now}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Save upserts the canvas of space id.
func (s *Store) Save(ctx context.Context, id string, canvas spaces.Canvas) error {
	now := s.now()
	data, err := json.Marshal(spaces.Stamp(canvas, id, now))
	if err != nil {
		return fmt.Errorf("marshaling canvas: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO spaces (id, canvas, saved_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET canvas = EXCLUDED.canvas, saved_at = EXCLUDED.saved_at
	`, spaces.NormalizeID(id), data, now)
	if err != nil {
		return fmt.Errorf("saving space: %w", err)
	}
	debug.Log("storage", "canvas saved", "space", id, "bytes", len(data))
	return nil
}

// Load returns the canvas of space id.
func (s *Store) Load(ctx context.Context, id string) (spaces.Canvas, error) {
	return load(ctx, s.pool, spaces.NormalizeID(id), "")
}

// List returns all spaces, most recently saved first.
func (s *Store) List(ctx context.Context) ([]spaces.Summary, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, canvas FROM spaces ORDER BY saved_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	defer rows.Close()

	list := []spaces.Summary{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning space: %w", err)
		}
		var c spaces.Canvas
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling canvas %s: %w", id, err)
		}
		list = append(list, spaces.Summarize(id, c))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	return list, nil
}

// Delete removes the space row.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM spaces WHERE id = $1", spaces.NormalizeID(id))
	if err != nil {
		return fmt.Errorf("deleting space: %w", err)
	}
	if result.RowsAffected() == 0 {
		return spaces.ErrNotFound
	}
	return nil
}

// DeleteNode removes one node inside a transaction holding the row lock.
func (s *Store) DeleteNode(ctx context.Context, id, nodeID string) error {
	id = spaces.NormalizeID(id)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := load(ctx, tx, id, " FOR UPDATE")
		if err != nil {
			return err
		}
		now := s.now()
		if !spaces.RemoveNode(c, nodeID, now) {
			return spaces.ErrNodeNotFound
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling canvas: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE spaces SET canvas = $1, saved_at = $2 WHERE id = $3", data, now, id); err != nil {
			return fmt.Errorf("updating space: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func load(ctx context.Context, q querier, id, suffix string) (spaces.Canvas, error) {
	var data []byte
	err := q.QueryRow(ctx, "SELECT canvas FROM spaces WHERE id = $1"+suffix, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, spaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying space: %w", err)
	}
	var c spaces.Canvas
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling canvas: %w", err)
	}
	return c, nil
}
