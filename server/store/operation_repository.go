package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateOperation is returned by Create when the dedupe tuple
// (user_id, scope, resource_id, actor, clock) was already recorded —
// spec.md §8 property 8 requires this to be treated as success upstream,
// not a failure.
var ErrDuplicateOperation = errors.New("store: duplicate operation")

type OperationRepository struct {
	db *pgxpool.Pool
}

func NewOperationRepository(db *pgxpool.Pool) *OperationRepository {
	return &OperationRepository{db: db}
}

// Create records one operation at the given server_seq. Returns
// ErrDuplicateOperation (not a failure) when the dedupe tuple already
// exists.
func (r *OperationRepository) Create(ctx context.Context, op *SyncOperation) error {
	query := `
		INSERT INTO sync_operations (
			user_id, scope, resource_id, actor, clock, payload, server_seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, scope, resource_id, actor, clock) DO NOTHING
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		op.UserID, op.Scope, op.ResourceID, op.Actor, op.Clock, op.Payload, op.ServerSeq,
	).Scan(&op.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateOperation
	}
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// GetSince retrieves operations for userID with server_seq strictly
// greater than since, oldest first, capped at limit.
func (r *OperationRepository) GetSince(ctx context.Context, userID string, since int64, limit int) ([]SyncOperation, error) {
	query := `
		SELECT user_id, scope, resource_id, actor, clock, payload, server_seq, created_at
		FROM sync_operations
		WHERE user_id = $1 AND server_seq > $2
		ORDER BY server_seq ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	ops := make([]SyncOperation, 0)
	for rows.Next() {
		var op SyncOperation
		if err := rows.Scan(
			&op.UserID, &op.Scope, &op.ResourceID, &op.Actor, &op.Clock,
			&op.Payload, &op.ServerSeq, &op.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteOldOperations removes operations for userID at or below the
// minimum last_acked_seq across that user's sync_clients rows — it is
// never safe to prune below a cursor some client hasn't caught up to yet.
func (r *OperationRepository) DeleteOldOperations(ctx context.Context, userID string) (int64, error) {
	query := `
		DELETE FROM sync_operations
		WHERE user_id = $1
		  AND server_seq <= (
		      SELECT COALESCE(MIN(last_acked_seq), 0)
		      FROM sync_clients
		      WHERE user_id = $1
		  )
	`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old operations: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetOperationCount returns the total number of recorded operations for
// userID, mostly useful for diagnostics.
func (r *OperationRepository) GetOperationCount(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM sync_operations WHERE user_id = $1`

	var count int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// UpsertClientCursor records the server_seq a client has acked, used by
// DeleteOldOperations to bound compaction.
func (r *OperationRepository) UpsertClientCursor(ctx context.Context, userID, clientID string, lastAckedSeq int64) error {
	query := `
		INSERT INTO sync_clients (user_id, client_id, last_acked_seq, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id)
		DO UPDATE SET last_acked_seq = GREATEST(sync_clients.last_acked_seq, EXCLUDED.last_acked_seq),
		              updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, userID, clientID, lastAckedSeq, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert client cursor: %w", err)
	}
	return nil
}

// GetClientCursor returns the server_seq a client last acked, 0 if the
// client has never pushed or pulled before.
func (r *OperationRepository) GetClientCursor(ctx context.Context, userID, clientID string) (int64, error) {
	query := `SELECT last_acked_seq FROM sync_clients WHERE user_id = $1 AND client_id = $2`

	var seq int64
	err := r.db.QueryRow(ctx, query, userID, clientID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get client cursor: %w", err)
	}
	return seq, nil
}
