package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned on a cache miss or when caching is disabled, so callers
// can fall through to the database without special-casing either.
var ErrMiss = errors.New("cache: miss")

// Cache is a thin JSON layer over Redis. A nil *Cache is valid and behaves
// like an always-miss cache, which keeps Redis optional in deployments.
type Cache struct {
	rdb *redis.Client
}

// New connects to Redis at addr. Returns nil (caching disabled) when addr is
// empty or the server is unreachable.
func New(addr, password string) *Cache {
	if addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Catalog caching will be disabled.", err)
		return nil
	}

	log.Println("Connected to Redis successfully")
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Invalidate deletes every key matching the pattern.
func (c *Cache) Invalidate(ctx context.Context, pattern string) error {
	if c == nil {
		return nil
	}
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.rdb.Del(ctx, keys...).Err()
	}
	return nil
}

func (c *Cache) Close() {
	if c != nil {
		c.rdb.Close()
	}
}
