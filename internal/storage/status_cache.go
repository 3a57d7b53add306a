package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/types"
)

const statusKeyPrefix = "scan:status:"

// StatusCache keeps short-lived scan status snapshots in Redis, taking
// repeated status polls off the database. The TTL is short because the
// database record is the source of truth; every job mutation also
// invalidates the key. Cache failures are logged and treated as misses.
type StatusCache struct {
	cache  *RedisCache
	ttl    time.Duration
	logger *logging.Logger
}

// NewStatusCache creates a status cache with the given snapshot TTL
func NewStatusCache(cache *RedisCache, ttl time.Duration, logger *logging.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &StatusCache{cache: cache, ttl: ttl, logger: logger}
}

// Get returns the cached snapshot for the job, or nil on a miss
func (c *StatusCache) Get(ctx context.Context, jobID string) *types.JobStatusView {
	raw, err := c.cache.Client().Get(ctx, statusKey(jobID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithJob(jobID).WithError(err).Warn("Status cache read failed")
		}
		return nil
	}

	var view types.JobStatusView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		c.logger.WithJob(jobID).WithError(err).Warn("Dropping undecodable status cache entry")
		c.Invalidate(ctx, jobID)
		return nil
	}
	return &view
}

// Put stores a snapshot for the job
func (c *StatusCache) Put(ctx context.Context, view *types.JobStatusView) {
	encoded, err := json.Marshal(view)
	if err != nil {
		c.logger.WithJob(view.ID).WithError(err).Warn("Failed to encode status snapshot")
		return
	}
	if err := c.cache.Client().Set(ctx, statusKey(view.ID), encoded, c.ttl).Err(); err != nil {
		c.logger.WithJob(view.ID).WithError(err).Warn("Status cache write failed")
	}
}

// Invalidate drops the cached snapshot after the job record changed
func (c *StatusCache) Invalidate(ctx context.Context, jobID string) {
	if err := c.cache.Client().Del(ctx, statusKey(jobID)).Err(); err != nil {
		c.logger.WithJob(jobID).WithError(err).Warn("Status cache invalidation failed")
	}
}

func statusKey(jobID string) string {
	return fmt.Sprintf("%s%s", statusKeyPrefix, jobID)
}
