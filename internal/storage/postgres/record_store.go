// Package postgres mirrors deduplicated records into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

const defaultTable = "cro_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool.
type RecordStoreConfig struct {
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

// RecordStore writes fingerprinted records into a single table keyed by
// fingerprint. Rows are never updated once written.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
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
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool builds a store over an existing pool.
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
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
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	fingerprint  TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	website      TEXT NOT NULL,
	region       TEXT NOT NULL,
	attributes   JSONB NOT NULL,
	descriptions JSONB NOT NULL,
	inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// InsertRecords writes every record not already present, in fingerprint
// order, and returns how many rows were new.
func (s *RecordStore) InsertRecords(ctx context.Context, records map[string]crawler.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("record store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (fingerprint, name, website, region, attributes, descriptions)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (fingerprint) DO NOTHING`, s.table)

	keys := make([]string, 0, len(records))
	for fp := range records {
		keys = append(keys, fp)
	}
	sort.Strings(keys)

	inserted := 0
	for _, fp := range keys {
		rec := records[fp]
		attrs := rec.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		attrsJSON, err := json.Marshal(attrs)
		if err != nil {
			return inserted, fmt.Errorf("marshal attributes: %w", err)
		}
		descs := rec.Descriptions
		if descs == nil {
			descs = []string{}
		}
		descsJSON, err := json.Marshal(descs)
		if err != nil {
			return inserted, fmt.Errorf("marshal descriptions: %w", err)
		}
		tag, err := s.pool.Exec(ctx, query, fp, rec.Name, rec.Website, rec.Region, attrsJSON, descsJSON)
		if err != nil {
			return inserted, fmt.Errorf("insert record %s: %w", fp, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
