package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxBatch accumulates one round trip's worth of invocation record inserts
// for SaveInvocationRecords.
type pgxBatch struct {
	b pgx.Batch
	n int
}

func (pb *pgxBatch) queue(rec *InvocationRecord) {
	pb.b.Queue(`
		INSERT INTO invocation_records (request_id, function_ref, profile_key, duration_ms, cold_start, success, error_kind, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`, rec.RequestID, rec.FunctionRef, rec.ProfileKey, rec.DurationMs, rec.ColdStart, rec.Success, rec.ErrorKind, rec.ErrorMessage, rec.CreatedAt)
	pb.n++
}

func (pb *pgxBatch) send(ctx context.Context, pool *pgxpool.Pool) error {
	if pb.n == 0 {
		return nil
	}
	br := pool.SendBatch(ctx, &pb.b)
	defer br.Close()
	for i := 0; i < pb.n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert invocation record %d/%d: %w", i+1, pb.n, err)
		}
	}
	return nil
}
