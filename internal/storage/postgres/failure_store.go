// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FailureStoreConfig controls the Postgres connection pool used for failure rows.
type FailureStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FailureStore mirrors dead-letter failure records into Postgres.
type FailureStore struct {
	pool  execCloser
	table string
}

// NewFailureStore creates a Postgres-backed FailureStore using the provided config.
func NewFailureStore(ctx context.Context, cfg FailureStoreConfig) (*FailureStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FailureStore{pool: pool, table: table}, nil
}

// NewFailureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFailureStoreWithPool(pool execCloser, table string) (*FailureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FailureStore{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "delivery_failures"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *FailureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordFailure inserts one failure row. Replaying the same record ID is a
// no-op so a retried dead-letter never duplicates rows.
func (s *FailureStore) RecordFailure(ctx context.Context, rec gazette.FailureRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("failure store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("failure id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	file_name,
	file_path,
	record_id,
	worker_id,
	detected_at,
	failed_at,
	processing_duration_ms,
	total_duration_ms,
	retry_count,
	error_class,
	error_code,
	error_message,
	archive_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING`, s.table)

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.FileName,
		rec.FilePath,
		nullIfEmpty(rec.RecordID),
		rec.WorkerID,
		rec.DetectedAt,
		rec.FailedAt,
		rec.ProcessingDurationMS,
		rec.TotalDurationMS,
		rec.RetryCount,
		rec.ErrorClass,
		nullIfZero(rec.ErrorCode),
		rec.ErrorMessage,
		nullIfEmpty(rec.ArchiveURI),
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
