// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/execution-probe/internal/extract"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "probe_runs"

// RunStoreConfig controls the Postgres connection pool used for ledger rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes one row per run into Postgres.
type RunStore struct {
	pool  execCloser
	table string
}

var _ extract.Ledger = (*RunStore)(nil)

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
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

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts the ledger row for one run. Re-recording a run ID
// overwrites the earlier row.
func (s *RunStore) RecordRun(ctx context.Context, rec extract.RunRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	succeeded := rec.SuccessfulEndpoints
	if succeeded == nil {
		succeeded = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	execution_id,
	journey_id,
	project_id,
	started_at,
	finished_at,
	successful_endpoints,
	failed_endpoint_count,
	structured_source,
	checkpoint_count,
	raw_uri,
	raw_sha256,
	structured_uri,
	exit_code
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	exit_code = EXCLUDED.exit_code`, s.table)

	args := []any{
		rec.RunID,
		rec.ExecutionID,
		rec.JourneyID,
		rec.ProjectID,
		rec.StartedAt,
		rec.FinishedAt,
		succeeded,
		rec.FailedEndpoints,
		nullable(rec.StructuredSource),
		rec.Checkpoints,
		rec.RawURI,
		rec.RawSHA256,
		nullable(rec.StructuredURI),
		rec.ExitCode,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
