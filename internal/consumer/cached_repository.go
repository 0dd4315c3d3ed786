package consumer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/circuitbreaker"
	"herald/pkg/metrics"
)

// CachedRepository fronts a Repository with Redis markers for processed
// messages. Redis is only ever a positive cache: a miss or a Redis error
// falls through to the underlying store, which stays authoritative.
type CachedRepository struct {
	Repository
	client *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = constants.DefaultDedupCacheTTL
	}
	return &CachedRepository{
		Repository: repo,
		client:     client,
		ttl:        ttl,
		logger:     log.With("component", "dedup_cache"),
	}
}

// WithBreaker routes Redis calls through cb so a Redis outage costs one
// fast rejection per lookup instead of a dial timeout. A nil cb is a no-op.
func (r *CachedRepository) WithBreaker(cb *circuitbreaker.Wrapper) *CachedRepository {
	r.breaker = cb
	return r
}

func idKey(group, messageID string) string {
	return constants.CacheKeyPrefixProcessed + group + ":id:" + messageID
}

func idemKey(group, key string) string {
	return constants.CacheKeyPrefixProcessed + group + ":key:" + key
}

func (r *CachedRepository) cacheKeys(messageID, idempotencyKey, group string) []string {
	keys := []string{idKey(group, messageID)}
	if idempotencyKey != "" {
		keys = append(keys, idemKey(group, idempotencyKey))
	}
	return keys
}

func (r *CachedRepository) IsProcessed(ctx context.Context, messageID, idempotencyKey, group string) (bool, error) {
	var n int64
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.client.Exists(ctx, r.cacheKeys(messageID, idempotencyKey, group)...).Result()
		return err
	})
	switch {
	case err != nil:
		metrics.IncDedupCacheLookup("error")
		r.logger.WarnwCtx(ctx, "Dedup cache lookup failed, using database", "error", err)
	case n > 0:
		metrics.IncDedupCacheLookup("hit")
		return true, nil
	default:
		metrics.IncDedupCacheLookup("miss")
	}

	found, err := r.Repository.IsProcessed(ctx, messageID, idempotencyKey, group)
	if err != nil {
		return false, err
	}
	if found {
		r.remember(ctx, messageID, idempotencyKey, group)
	}
	return found, nil
}

func (r *CachedRepository) MarkProcessed(ctx context.Context, p ProcessedMessage) (bool, error) {
	inserted, err := r.Repository.MarkProcessed(ctx, p)
	if err != nil {
		return false, err
	}
	r.remember(ctx, p.MessageID, p.IdempotencyKey, p.ConsumerGroup)
	return inserted, nil
}

func (r *CachedRepository) remember(ctx context.Context, messageID, idempotencyKey, group string) {
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range r.cacheKeys(messageID, idempotencyKey, group) {
				pipe.Set(ctx, key, 1, r.ttl)
			}
			return nil
		})
		return err
	})
	if err != nil {
		r.logger.WarnwCtx(ctx, "Failed to populate dedup cache", "error", err)
	}
}
