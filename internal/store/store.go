// Package store is the durable invocation audit log and snapshot registry,
// backed by Postgres via pgx.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InvocationRecord is one completed call, written after the call finishes
// regardless of outcome.
type InvocationRecord struct {
	RequestID     string
	FunctionRef   string
	ProfileKey    string
	DurationMs    int64
	ColdStart     bool
	Success       bool
	ErrorKind     string
	ErrorMessage  string
	CreatedAt     time.Time
}

// SnapshotRecord tracks a provisioned dependency snapshot so a restart can
// rediscover what's already baked without re-provisioning.
type SnapshotRecord struct {
	ProfileKey   string
	SnapshotPath string
	MemPath      string
	Dependencies []string
	CreatedAt    time.Time
}

// Store is the durable-persistence surface the supervisor writes to; all
// writes are best-effort from the caller's standpoint (see Batcher for the
// batched async path actually used on the invocation hot path).
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema this package owns
// exists. dsn must be non-empty.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocation_records (
			request_id TEXT PRIMARY KEY,
			function_ref TEXT NOT NULL,
			profile_key TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			cold_start BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS invocation_records_profile_key_idx ON invocation_records (profile_key, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS snapshot_records (
			profile_key TEXT PRIMARY KEY,
			snapshot_path TEXT NOT NULL,
			mem_path TEXT NOT NULL,
			dependencies TEXT[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveInvocationRecord persists one invocation. Idempotent on request_id.
func (s *Store) SaveInvocationRecord(ctx context.Context, rec *InvocationRecord) error {
	if rec.RequestID == "" {
		return fmt.Errorf("invocation record request_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invocation_records (request_id, function_ref, profile_key, duration_ms, cold_start, success, error_kind, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`, rec.RequestID, rec.FunctionRef, rec.ProfileKey, rec.DurationMs, rec.ColdStart, rec.Success, rec.ErrorKind, rec.ErrorMessage, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save invocation record: %w", err)
	}
	return nil
}

// SaveInvocationRecords persists a batch in one round trip; used by the
// batcher's periodic flush.
func (s *Store) SaveInvocationRecords(ctx context.Context, recs []*InvocationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgxBatch{}
	for _, rec := range recs {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		batch.queue(rec)
	}
	return batch.send(ctx, s.pool)
}

// ListInvocationRecords returns the most recent records for profileKey.
func (s *Store) ListInvocationRecords(ctx context.Context, profileKey string, limit int) ([]*InvocationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, function_ref, profile_key, duration_ms, cold_start, success, error_kind, error_message, created_at
		FROM invocation_records
		WHERE profile_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, profileKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocation records: %w", err)
	}
	defer rows.Close()

	var out []*InvocationRecord
	for rows.Next() {
		rec := &InvocationRecord{}
		if err := rows.Scan(&rec.RequestID, &rec.FunctionRef, &rec.ProfileKey, &rec.DurationMs, &rec.ColdStart, &rec.Success, &rec.ErrorKind, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSnapshotRecord registers a provisioned snapshot, overwriting any prior
// record for the same profile_key (re-provisioning replaces the old one).
func (s *Store) SaveSnapshotRecord(ctx context.Context, rec *SnapshotRecord) error {
	if rec.ProfileKey == "" {
		return fmt.Errorf("snapshot record profile_key is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshot_records (profile_key, snapshot_path, mem_path, dependencies, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_key) DO UPDATE SET
			snapshot_path = EXCLUDED.snapshot_path,
			mem_path = EXCLUDED.mem_path,
			dependencies = EXCLUDED.dependencies,
			created_at = EXCLUDED.created_at
	`, rec.ProfileKey, rec.SnapshotPath, rec.MemPath, rec.Dependencies, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot record: %w", err)
	}
	return nil
}

// GetSnapshotRecord looks up the registered snapshot for profileKey, if any.
func (s *Store) GetSnapshotRecord(ctx context.Context, profileKey string) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT profile_key, snapshot_path, mem_path, dependencies, created_at
		FROM snapshot_records
		WHERE profile_key = $1
	`, profileKey).Scan(&rec.ProfileKey, &rec.SnapshotPath, &rec.MemPath, &rec.Dependencies, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
