// Package postgres persists issue datasets as JSONB rows in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// DefaultTable holds one row per journal issue.
const DefaultTable = "issue_datasets"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the Postgres connection pool used for dataset rows.
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
	Close()
}

// DatasetStore reads and upserts issue datasets keyed by (journal, year, issue).
type DatasetStore struct {
	pool  pool
	table string
}

var _ harvest.DatasetStore = (*DatasetStore)(nil)

// New creates a Postgres-backed DatasetStore using the provided config.
func New(ctx context.Context, cfg Config) (*DatasetStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	return &DatasetStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*DatasetStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DatasetStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DatasetStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the dataset table when it does not exist yet.
func (s *DatasetStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	journal    TEXT        NOT NULL,
	year       INTEGER     NOT NULL,
	issue      INTEGER     NOT NULL,
	papers     JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (journal, year, issue)
)`, s.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load returns the stored dataset for ref; found is false when no row exists.
func (s *DatasetStore) Load(ctx context.Context, ref harvest.DatasetRef) (harvest.IssueDataset, bool, error) {
	query, args, err := psql.Select("papers").
		From(s.table).
		Where(sq.And{
			sq.Eq{"journal": ref.Journal},
			sq.Eq{"year": ref.Year},
			sq.Eq{"issue": ref.Issue},
		}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build select: %w", err)
	}
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select dataset %s: %w", ref, err)
	}
	ds, err := harvest.DecodeDataset(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode dataset %s: %w", ref, err)
	}
	return ds, true, nil
}

// Save upserts the whole dataset for ref in a single statement.
func (s *DatasetStore) Save(ctx context.Context, ref harvest.DatasetRef, ds harvest.IssueDataset) (string, error) {
	data, err := harvest.EncodeDataset(ds)
	if err != nil {
		return "", err
	}
	query, args, err := psql.Insert(s.table).
		Columns("journal", "year", "issue", "papers", "updated_at").
		Values(ref.Journal, ref.Year, ref.Issue, data, sq.Expr("now()")).
		Suffix("ON CONFLICT (journal, year, issue) DO UPDATE SET papers = EXCLUDED.papers, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("upsert dataset %s: %w", ref, err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, ref), nil
}
