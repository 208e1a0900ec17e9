// Package sqlite stores artifacts in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string
	Table string
}

// ArtifactStore implements harvest.Repository on SQLite.
type ArtifactStore struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database file.
func Open(cfg Config) (*ArtifactStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "data"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	return &ArtifactStore{db: db, table: table}, nil
}

// CreateSchemaIfAbsent creates the artifact table.
func (s *ArtifactStore) CreateSchemaIfAbsent(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	sha TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	code BLOB,
	extension TEXT,
	q TEXT
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// ExistsByIdentifier reports whether a row with identifier is stored.
func (s *ArtifactStore) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE sha = ?)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, identifier).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup %s: %w", identifier, err)
	}
	return exists, nil
}

// InsertIgnoringConflict stores one record and reports whether it was new.
func (s *ArtifactStore) InsertIgnoringConflict(ctx context.Context, record harvest.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.insertSQL(), insertArgs(record)...)
	if err != nil {
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	return n == 1, nil
}

// InsertBatch stores records in one transaction.
func (s *ArtifactStore) InsertBatch(ctx context.Context, records []harvest.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	added := 0
	for _, rec := range records {
		res, execErr := stmt.ExecContext(ctx, insertArgs(rec)...)
		if execErr != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert artifact %s: %w", rec.Identifier, execErr)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return added, nil
}

// Count returns the number of stored rows.
func (s *ArtifactStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// Close closes the database.
func (s *ArtifactStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *ArtifactStore) insertSQL() string {
	return fmt.Sprintf(`
INSERT OR IGNORE INTO %s (file_name, file_path, sha, url, code, extension, q)
VALUES (?,?,?,?,?,?,?)`, s.table)
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
