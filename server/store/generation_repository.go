package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrGenerationNotFound is returned when a user has no recorded dataset
// generation yet — the first bootstrap for a brand new user.
var ErrGenerationNotFound = errors.New("store: dataset generation not found")

type GenerationRepository struct {
	db *pgxpool.Pool
}

func NewGenerationRepository(db *pgxpool.Pool) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) scan(row pgx.Row) (*DatasetGeneration, error) {
	var gen DatasetGeneration
	err := row.Scan(
		&gen.UserID, &gen.GenerationKey, &gen.ServerSeq, &gen.SnapshotBlobRef,
		&gen.CreatedAt, &gen.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dataset generation: %w", err)
	}
	return &gen, nil
}

// GetActive retrieves the current dataset generation for userID.
func (r *GenerationRepository) GetActive(ctx context.Context, userID string) (*DatasetGeneration, error) {
	query := `
		SELECT user_id, generation_key, server_seq, snapshot_blob_ref, created_at, updated_at
		FROM dataset_generations
		WHERE user_id = $1
	`
	return r.scan(r.db.QueryRow(ctx, query, userID))
}

// StartGeneration replaces userID's active generation with a brand new
// one (the dataset-generation reset handshake, §4.9 step 4) anchored to
// snapshotBlobRef and resets the server_seq baseline to zero.
func (r *GenerationRepository) StartGeneration(ctx context.Context, userID, generationKey string, snapshotBlobRef *string) (*DatasetGeneration, error) {
	query := `
		INSERT INTO dataset_generations (user_id, generation_key, server_seq, snapshot_blob_ref, updated_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET generation_key = EXCLUDED.generation_key,
		              server_seq = 0,
		              snapshot_blob_ref = EXCLUDED.snapshot_blob_ref,
		              updated_at = EXCLUDED.updated_at
		RETURNING user_id, generation_key, server_seq, snapshot_blob_ref, created_at, updated_at
	`
	return r.scan(r.db.QueryRow(ctx, query, userID, generationKey, snapshotBlobRef, time.Now()))
}

// BumpServerSeq atomically advances userID's server_seq high-water mark
// by delta and returns the new value. Push calls it with delta 1 before
// storing each envelope, including envelopes then found to be duplicates.
func (r *GenerationRepository) BumpServerSeq(ctx context.Context, userID string, delta int64) (int64, error) {
	query := `
		UPDATE dataset_generations
		SET server_seq = server_seq + $2, updated_at = $3
		WHERE user_id = $1
		RETURNING server_seq
	`
	var newSeq int64
	err := r.db.QueryRow(ctx, query, userID, delta, time.Now()).Scan(&newSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrGenerationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump server_seq: %w", err)
	}
	return newSeq, nil
}
