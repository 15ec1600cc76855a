// Package cache is a Redis-backed acceleration layer in front of store.Store,
// grounded on the teacher's internal/platform/database.Open ping-on-connect
// idiom (internal/platform/database/database.go) applied to go-redis/redis/v8
// instead of database/sql. It caches the srn->ri identifier index (the
// dispatcher's hottest lookup per spec.md §4.1 step 2, "resolve to-param")
// and offers per-(sub,target) batch-notification counters. The notifier
// (spec.md §4.3) does not use these counters: it checks a bn policy's num
// threshold with a CountNotifications query on the backing store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache wraps a *redis.Client with the narrow operations cachedstore uses
// for identifier lookups, plus the batch counters. A nil *Cache is valid and acts as a pure pass-through
// (every method becomes a cache miss), so callers can run without Redis
// configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to Redis and verifies connectivity with a PING, mirroring
// the teacher's connect-then-ping style for other storage backends.
func Open(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func srnKey(srn string) string { return "cse:srn:" + srn }

// PutSRN caches the srn->ri mapping so repeated structured-addressing
// lookups (spec.md §4.1 step 2) skip the identifier table.
func (c *Cache) PutSRN(ctx context.Context, srn, ri string) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, srnKey(srn), ri, c.ttl).Err()
}

// GetSRN returns the cached ri for srn. ok is false on a cache miss or when
// the cache is disabled; callers fall back to the authoritative store.
func (c *Cache) GetSRN(ctx context.Context, srn string) (ri string, ok bool, err error) {
	if c == nil {
		return "", false, nil
	}
	ri, err = c.client.Get(ctx, srnKey(srn)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ri, true, nil
}

// InvalidateSRN removes a cached mapping, called on resource delete/rename.
func (c *Cache) InvalidateSRN(ctx context.Context, srn string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, srnKey(srn)).Err()
}

func batchCountKey(subRI, targetURI string) string {
	return "cse:batch:count:" + subRI + ":" + targetURI
}

// IncrBatchCount atomically increments the buffered-notification counter for
// a (subscription, target) pair and returns the new count, for comparison
// against a bn.num threshold (spec.md §4.3's batch notification policy).
// No caller in the module uses it; the notifier counts through the store.
func (c *Cache) IncrBatchCount(ctx context.Context, subRI, targetURI string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	return c.client.Incr(ctx, batchCountKey(subRI, targetURI)).Result()
}

// ResetBatchCount zeroes the counter after a batch flush.
func (c *Cache) ResetBatchCount(ctx context.Context, subRI, targetURI string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, batchCountKey(subRI, targetURI)).Err()
}
