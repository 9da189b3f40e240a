package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eupholio/costbasis/internal/model"
)

// RedisCache implements Cache on Redis so that several service instances
// share results. Reports are stored as JSON.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a cache on an existing client.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*model.Report, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return decodeReport(data)
}

func (c *RedisCache) Set(ctx context.Context, key string, r *model.Report) error {
	data, err := encodeReport(r)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func encodeReport(r *model.Report) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cache: encode report: %w", err)
	}
	return data, nil
}

// decodeReport treats an undecodable entry as a miss so that a format change
// never fails a request.
func decodeReport(data []byte) (*model.Report, error) {
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, ErrMiss
	}
	if r.Positions == nil {
		r.Positions = make(map[string]model.Position)
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []model.Warning{}
	}
	return &r, nil
}
