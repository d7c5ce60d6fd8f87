package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pipegrid_cache_entries (
	digest     TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL,
	route_id   TEXT NOT NULL,
	version    TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps entries in the pipegrid_cache_entries table.
type PostgresStore struct {
	db    *sql.DB
	codec Codec

	schema lazyInit
}

// NewPostgresStore opens a pgx backed connection pool and verifies it.
func NewPostgresStore(ctx context.Context, dsn string, codec Codec) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStoreFromDB(db, codec), nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB, codec Codec) *PostgresStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &PostgresStore{db: db, codec: codec}
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	return s.schema.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, postgresSchema)
		return err
	})
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, false, fmt.Errorf("cache: ensure schema: %w", err)
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM pipegrid_cache_entries WHERE digest = $1`, key.Digest(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e, err := s.codec.Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	if !e.Key.Equal(key) {
		return nil, false, fmt.Errorf("cache: row %s belongs to a different key", key.Digest())
	}
	return e, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, entry *Entry) error {
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("cache: ensure schema: %w", err)
	}
	payload, err := s.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipegrid_cache_entries (digest, cache_key, route_id, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (digest) DO UPDATE
		SET cache_key = EXCLUDED.cache_key, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		entry.Key.Digest(), entry.Key.String(), entry.Key.RouteID, entry.Key.Version, payload, entry.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, fmt.Errorf("cache: ensure schema: %w", err)
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pipegrid_cache_entries WHERE digest = $1)`, key.Digest(),
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, fmt.Errorf("cache: ensure schema: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipegrid_cache_entries WHERE digest = $1`, key.Digest())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("cache: ensure schema: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipegrid_cache_entries`)
	return err
}
