// Package cache provides a two-tier read cache for cohort records: an
// in-process LRU in front of an optional Redis layer shared across server
// instances. Reads fall through LRU, Redis, then the wrapped store; writes
// and deletes invalidate both tiers before hitting the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
)

// Config controls cache sizing and the optional Redis tier.
type Config struct {
	LRUSize   int           `json:"lru_size"`
	RedisAddr string        `json:"redis_addr"`
	RedisDB   int           `json:"redis_db"`
	TTL       time.Duration `json:"ttl"`
}

// CohortCache wraps a cohort.Store with caching. Public cohorts are cached
// under a separate key space since the two lookups can disagree.
type CohortCache struct {
	store cohort.Store
	local *lru.Cache[string, *domain.CohortRecord]
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Logger
}

// New wraps store with the configured cache tiers. An empty RedisAddr
// disables the Redis tier; LRU is always on.
func New(store cohort.Store, config Config, log *logrus.Logger) (*CohortCache, error) {
	size := config.LRUSize
	if size <= 0 {
		size = 128
	}
	local, err := lru.New[string, *domain.CohortRecord](size)
	if err != nil {
		return nil, fmt.Errorf("creating cohort cache: %w", err)
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	c := &CohortCache{
		store: store,
		local: local,
		ttl:   ttl,
		log:   log,
	}
	if config.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr: config.RedisAddr,
			DB:   config.RedisDB,
		})
	}
	return c, nil
}

// GetCohort reads through the cache tiers.
func (c *CohortCache) GetCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return c.get(ctx, "cohort:"+id, func() (*domain.CohortRecord, error) {
		return c.store.GetCohort(ctx, id)
	})
}

// GetPublicCohort reads through the cache tiers.
func (c *CohortCache) GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return c.get(ctx, "cohort:public:"+id, func() (*domain.CohortRecord, error) {
		return c.store.GetPublicCohort(ctx, id)
	})
}

func (c *CohortCache) get(ctx context.Context, key string, load func() (*domain.CohortRecord, error)) (*domain.CohortRecord, error) {
	if record, ok := c.local.Get(key); ok {
		return record, nil
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var record domain.CohortRecord
			if err := json.Unmarshal(data, &record); err == nil {
				c.local.Add(key, &record)
				return &record, nil
			}
			// Corrupt entry: fall through to the store and overwrite it.
			c.log.WithField("key", key).Warn("Discarding corrupt cache entry")
		} else if err != redis.Nil {
			c.log.WithError(err).Warn("Redis read failed, falling through to store")
		}
	}

	record, err := load()
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, record)
	return record, nil
}

func (c *CohortCache) fill(ctx context.Context, key string, record *domain.CohortRecord) {
	c.local.Add(key, record)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("Redis write failed")
	}
}

// SaveCohort writes through to the store and invalidates both tiers.
func (c *CohortCache) SaveCohort(ctx context.Context, record *domain.CohortRecord) error {
	if err := c.store.SaveCohort(ctx, record); err != nil {
		return err
	}
	c.invalidate(ctx, record.ID)
	return nil
}

// DeleteCohort deletes from the store and invalidates both tiers.
func (c *CohortCache) DeleteCohort(ctx context.Context, id string) error {
	if err := c.store.DeleteCohort(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *CohortCache) invalidate(ctx context.Context, id string) {
	keys := []string{"cohort:" + id, "cohort:public:" + id}
	for _, key := range keys {
		c.local.Remove(key)
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.log.WithError(err).Warn("Redis invalidation failed")
		}
	}
}

// Close releases the Redis connection.
func (c *CohortCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
