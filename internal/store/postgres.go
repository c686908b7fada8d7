// Package store provides Postgres-backed persistence for probe results,
// one row per attempt, for offline analysis across scan runs.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowlet/scanner/internal/probe"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
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

// ResultStore writes probe result rows into Postgres.
type ResultStore struct {
	pool  execCloser
	table string
	runID string
}

// New creates a Postgres-backed ResultStore using the provided config.
func New(ctx context.Context, cfg Config, runID string) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "probe_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &ResultStore{pool: pool, table: table, runID: runID}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, table, runID string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "probe_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table, runID: runID}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreResult inserts one attempt row.
func (s *ResultStore) StoreResult(ctx context.Context, res probe.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if res.Variant.TemplateID == "" {
		return fmt.Errorf("result template id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	template_id,
	variant_class,
	variant_label,
	method,
	url,
	attempt,
	terminal,
	outcome,
	status_code,
	latency_ms,
	body_size,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		s.runID,
		res.Variant.TemplateID,
		string(res.Variant.Class),
		res.Variant.Label,
		res.Variant.Method,
		res.Variant.URL,
		res.Attempt,
		res.Terminal,
		string(res.Outcome),
		res.StatusCode,
		res.Latency.Milliseconds(),
		res.BodySize,
		res.Err,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert probe result: %w", err)
	}
	return nil
}
