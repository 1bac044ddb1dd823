package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	cacheKeyActive  = "catalog:active"
	cacheKeyService = "catalog:service:"
)

// CachedRepository fronts a Repository with Redis. Cache errors fall
// through to the database; a nil client disables caching.
type CachedRepository struct {
	next   Repository
	client *redis.Client
	ttl    time.Duration
}

func NewCachedRepository(next Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	return &CachedRepository{next: next, client: client, ttl: ttl}
}

func (c *CachedRepository) get(ctx context.Context, key string, dst interface{}) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Catalog cache entry corrupt")
		return false
	}
	return true
}

func (c *CachedRepository) set(ctx context.Context, key string, v interface{}) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Catalog cache write failed")
	}
}

func (c *CachedRepository) GetByCode(ctx context.Context, code string) (*Service, error) {
	var s Service
	if c.get(ctx, cacheKeyService+code, &s) {
		return &s, nil
	}
	found, err := c.next.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.set(ctx, cacheKeyService+code, found)
	return found, nil
}

func (c *CachedRepository) ListActive(ctx context.Context) ([]Service, error) {
	var items []Service
	if c.get(ctx, cacheKeyActive, &items) {
		return items, nil
	}
	items, err := c.next.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, cacheKeyActive, items)
	return items, nil
}

// Upsert writes through and drops the affected keys.
func (c *CachedRepository) Upsert(ctx context.Context, s *Service) error {
	if err := c.next.Upsert(ctx, s); err != nil {
		return err
	}
	if c.client != nil {
		if err := c.client.Del(ctx, cacheKeyActive, cacheKeyService+s.Code).Err(); err != nil {
			log.Warn().Err(err).Str("code", s.Code).Msg("Catalog cache invalidation failed")
		}
	}
	return nil
}

var _ Repository = (*CachedRepository)(nil)
