package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"swaprelayer/config"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gomodule/redigo/redis"
)

type Loader func(ctx context.Context) ([]byte, error)

// ByteCache is implemented by Cache and TieredCache.
type ByteCache interface {
	GetOrSet(ctx context.Context, key string, opts types.CacheOptions, loader Loader) ([]byte, error)
}

type CacheSettings struct {
	DefaultTTL       time.Duration
	NeverExpireTTL   time.Duration
	ProlongThreshold time.Duration
}

func DefaultCacheSettings() CacheSettings {
	return CacheSettings{
		DefaultTTL:       config.DefaultCacheTTL,
		NeverExpireTTL:   config.DefaultNeverExpireTTL,
		ProlongThreshold: config.DefaultProlongThreshold,
	}
}

// Cache is the distributed key/value cache.
// There is no single-flight: concurrent misses on the same key each run their loader
// and the last SET wins.
type Cache struct {
	pool     *redis.Pool
	settings CacheSettings
}

func NewCache(pool *redis.Pool, settings CacheSettings) *Cache {
	return &Cache{pool: pool, settings: settings}
}

func cacheKey(key string) string {
	return "cache:" + crypto.Keccak256Hash([]byte(key)).Hex()[2:]
}

// GetOrSet returns the cached value for key or stores the loader result.
// Backend errors are returned as is.
func (c *Cache) GetOrSet(ctx context.Context, key string, opts types.CacheOptions, loader Loader) ([]byte, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	k := cacheKey(key)
	value, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", k))
	if err == nil {
		if opts.NeverExpire {
			if err := c.prolong(ctx, conn, k); err != nil {
				return nil, err
			}
		}
		return value, nil
	}
	if !errors.Is(err, redis.ErrNil) {
		return nil, err
	}

	value, err = loader(ctx)
	if err != nil {
		return nil, err
	}
	ttl := c.ttl(opts)
	if _, err := redis.DoContext(conn, ctx, "SET", k, value, "PX", ttl.Milliseconds()); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache) ttl(opts types.CacheOptions) time.Duration {
	if opts.NeverExpire {
		return c.settings.NeverExpireTTL
	}
	if opts.TTL > 0 {
		return opts.TTL
	}
	return c.settings.DefaultTTL
}

// prolong extends a never-expire entry once its remaining ttl drops below the threshold.
func (c *Cache) prolong(ctx context.Context, conn redis.Conn, k string) error {
	remaining, err := redis.Int64(redis.DoContext(conn, ctx, "PTTL", k))
	if err != nil {
		return err
	}
	// -2: expired between GET and PTTL, -1: no expiry at all
	if remaining < 0 || remaining >= c.settings.ProlongThreshold.Milliseconds() {
		return nil
	}
	_, err = redis.DoContext(conn, ctx, "PEXPIRE", k, c.settings.NeverExpireTTL.Milliseconds())
	return err
}

func GetOrSetJSON[T any](ctx context.Context, c ByteCache, key string, opts types.CacheOptions, loader func(ctx context.Context) (T, error)) (res T, err error) {
	raw, err := c.GetOrSet(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(raw, &res)
	return res, err
}
