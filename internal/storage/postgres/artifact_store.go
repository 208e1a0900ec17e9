// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "data"

// Config controls the Postgres connection pool used for artifact rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ArtifactStore writes artifact rows into Postgres. Identifiers are unique;
// conflicting inserts are skipped.
type ArtifactStore struct {
	pool  pool
	table string
}

// New creates a Postgres-backed ArtifactStore using the provided config.
func New(ctx context.Context, cfg Config) (*ArtifactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArtifactStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*ArtifactStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// CreateSchemaIfAbsent creates the artifact table.
func (s *ArtifactStore) CreateSchemaIfAbsent(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	sha TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	code BYTEA,
	extension TEXT,
	q TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// ExistsByIdentifier reports whether a row with identifier is stored.
func (s *ArtifactStore) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE sha = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, identifier).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup %s: %w", identifier, err)
	}
	return exists, nil
}

// InsertIgnoringConflict stores one record and reports whether it was new.
func (s *ArtifactStore) InsertIgnoringConflict(ctx context.Context, record harvest.Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.insertSQL(), insertArgs(record)...)
	if err != nil {
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertBatch stores records in one transaction.
func (s *ArtifactStore) InsertBatch(ctx context.Context, records []harvest.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	query := s.insertSQL()
	added := 0
	for _, rec := range records {
		tag, execErr := tx.Exec(ctx, query, insertArgs(rec)...)
		if execErr != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert artifact %s: %w", rec.Identifier, execErr)
		}
		added += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return added, nil
}

// Count returns the number of stored rows.
func (s *ArtifactStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *ArtifactStore) insertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (file_name, file_path, sha, url, code, extension, q)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (sha) DO NOTHING`, s.table)
}

func insertArgs(rec harvest.Record) []any {
	return []any{
		rec.DisplayName,
		rec.PathName,
		rec.Identifier,
		rec.ContentURL,
		rec.Content,
		rec.Extension,
		rec.Query,
	}
}
