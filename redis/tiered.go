package redis

import (
	"context"
	"time"

	"swaprelayer/types"

	"github.com/coocood/freecache"
)

// TieredCache puts an in-process freecache in front of the distributed cache.
// The local tier only memoizes within one process; a nil local tier behaves the same.
type TieredCache struct {
	local    *freecache.Cache
	remote   ByteCache
	localTTL time.Duration
	settings CacheSettings
}

func NewTieredCache(remote ByteCache, sizeMB int, localTTL time.Duration, settings CacheSettings) *TieredCache {
	t := &TieredCache{remote: remote, localTTL: localTTL, settings: settings}
	if sizeMB > 0 {
		t.local = freecache.NewCache(sizeMB * 1024 * 1024)
	}
	return t
}

func (t *TieredCache) GetOrSet(ctx context.Context, key string, opts types.CacheOptions, loader Loader) ([]byte, error) {
	if t.local != nil {
		if value, err := t.local.Get([]byte(key)); err == nil {
			return value, nil
		}
	}
	value, err := t.remote.GetOrSet(ctx, key, opts, loader)
	if err != nil {
		return nil, err
	}
	if t.local != nil {
		// freecache treats 0 as "never expires", entries shorter than a second stay remote only
		if secs := int(t.localExpiry(opts).Seconds()); secs > 0 {
			_ = t.local.Set([]byte(key), value, secs)
		}
	}
	return value, nil
}

func (t *TieredCache) localExpiry(opts types.CacheOptions) time.Duration {
	ttl := t.settings.DefaultTTL
	if opts.NeverExpire {
		ttl = t.settings.NeverExpireTTL
	} else if opts.TTL > 0 {
		ttl = opts.TTL
	}
	if t.localTTL < ttl {
		return t.localTTL
	}
	return ttl
}
