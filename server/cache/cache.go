// Package cache wraps Redis caching for the sync server's hot path: the
// active dataset-generation row, so a bootstrap, push or pull doesn't
// round-trip to Postgres for it on every poll. It also offers per-client
// cursor entries (GetCursor/SetCursor); the sync handlers do not call
// them and keep client cursors in Postgres only.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	generationKeyPattern = "gen:%s"
	cursorKeyPattern     = "cursor:%s:%s"

	generationTTL = 5 * time.Minute
	cursorTTL     = 10 * time.Minute
)

// Generation mirrors a dataset_generations row: the current generation
// key and the server_seq high-water mark it's been pushed to.
type Generation struct {
	UserID               string  `json:"userId"`
	DatasetGenerationKey string  `json:"datasetGenerationKey"`
	ServerSeq            int64   `json:"serverSeq"`
	SnapshotBlobRef      *string `json:"snapshotBlobRef,omitempty"`
}

// SyncCacheService caches the active-generation read the bootstrap/push/
// pull handlers would otherwise issue against Postgres on every request.
type SyncCacheService struct {
	redis *redis.Client
}

func NewSyncCacheService(redisClient *redis.Client) *SyncCacheService {
	return &SyncCacheService{redis: redisClient}
}

// GetGeneration retrieves the cached active generation for a user.
func (s *SyncCacheService) GetGeneration(ctx context.Context, userID string) (Generation, bool) {
	key := fmt.Sprintf(generationKeyPattern, userID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return Generation{}, false
	}

	var gen Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		return Generation{}, false
	}
	return gen, true
}

// SetGeneration caches the active generation for a user.
func (s *SyncCacheService) SetGeneration(ctx context.Context, gen Generation) error {
	key := fmt.Sprintf(generationKeyPattern, gen.UserID)

	data, err := json.Marshal(gen)
	if err != nil {
		return fmt.Errorf("failed to marshal generation: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, generationTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache generation: %w", err)
	}
	return nil
}

// InvalidateGeneration drops the cached generation, forcing the next
// bootstrap/push/pull to re-read Postgres — used after a reset.
func (s *SyncCacheService) InvalidateGeneration(ctx context.Context, userID string) error {
	key := fmt.Sprintf(generationKeyPattern, userID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate generation cache: %w", err)
	}
	return nil
}

// GetCursor retrieves a client's cached last-acked server_seq.
func (s *SyncCacheService) GetCursor(ctx context.Context, userID, clientID string) (int64, bool) {
	key := fmt.Sprintf(cursorKeyPattern, userID, clientID)

	val, err := s.redis.Get(ctx, key).Int64()
	if err != nil {
		return 0, false
	}
	return val, true
}

// SetCursor caches a client's last-acked server_seq.
func (s *SyncCacheService) SetCursor(ctx context.Context, userID, clientID string, serverSeq int64) error {
	key := fmt.Sprintf(cursorKeyPattern, userID, clientID)
	if err := s.redis.Set(ctx, key, serverSeq, cursorTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache cursor: %w", err)
	}
	return nil
}
