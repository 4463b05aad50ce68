package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swaprelayer/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*miniredis.Miniredis, *redis.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	pool := NewPool(mr.Addr(), "", time.Second)
	t.Cleanup(func() { pool.Close() })
	return mr, pool
}

type countingLoader struct {
	calls int
	value string
	err   error
}

func (l *countingLoader) load(ctx context.Context) ([]byte, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return []byte(l.value), nil
}

func testSettings() CacheSettings {
	return CacheSettings{
		DefaultTTL:       10 * time.Minute,
		NeverExpireTTL:   30 * time.Hour,
		ProlongThreshold: 10 * time.Hour,
	}
}

func TestCacheMissThenHit(t *testing.T) {
	mr, pool := newTestPool(t)
	cache := NewCache(pool, testSettings())
	ctx := context.Background()
	loader := &countingLoader{value: "18"}

	v, err := cache.GetOrSet(ctx, "decimals:1:0xabc", types.CacheOptions{}, loader.load)
	require.NoError(t, err)
	assert.Equal(t, "18", string(v))

	v, err = cache.GetOrSet(ctx, "decimals:1:0xabc", types.CacheOptions{}, loader.load)
	require.NoError(t, err)
	assert.Equal(t, "18", string(v))
	assert.Equal(t, 1, loader.calls)

	assert.Equal(t, 10*time.Minute, mr.TTL(cacheKey("decimals:1:0xabc")))
}

func TestCacheCustomTTLExpires(t *testing.T) {
	mr, pool := newTestPool(t)
	cache := NewCache(pool, testSettings())
	ctx := context.Background()
	loader := &countingLoader{value: "x"}
	opts := types.CacheOptions{TTL: time.Minute}

	_, err := cache.GetOrSet(ctx, "k", opts, loader.load)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.GetOrSet(ctx, "k", opts, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestCacheLoaderErrorIsNotStored(t *testing.T) {
	mr, pool := newTestPool(t)
	cache := NewCache(pool, testSettings())
	boom := errors.New("rpc down")
	loader := &countingLoader{err: boom}

	_, err := cache.GetOrSet(context.Background(), "k", types.CacheOptions{}, loader.load)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(cacheKey("k")))
}

func TestCacheBackendErrorPropagates(t *testing.T) {
	mr, pool := newTestPool(t)
	cache := NewCache(pool, testSettings())
	mr.SetError("READONLY replica")
	loader := &countingLoader{value: "x"}

	_, err := cache.GetOrSet(context.Background(), "k", types.CacheOptions{}, loader.load)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
	assert.Equal(t, 0, loader.calls)
}

func TestCacheNeverExpireProlongsBelowThreshold(t *testing.T) {
	mr, pool := newTestPool(t)
	settings := testSettings()
	cache := NewCache(pool, settings)
	ctx := context.Background()
	opts := types.CacheOptions{NeverExpire: true}
	loader := &countingLoader{value: "USDC"}

	_, err := cache.GetOrSet(ctx, "symbol", opts, loader.load)
	require.NoError(t, err)
	k := cacheKey("symbol")
	assert.Equal(t, settings.NeverExpireTTL, mr.TTL(k))

	// above threshold: neither loader nor ttl write
	mr.FastForward(settings.NeverExpireTTL - settings.ProlongThreshold - time.Hour)
	before := mr.TTL(k)
	_, err = cache.GetOrSet(ctx, "symbol", opts, loader.load)
	require.NoError(t, err)
	assert.Equal(t, before, mr.TTL(k))

	// below threshold: ttl is pushed back, loader still skipped
	mr.FastForward(2 * time.Hour)
	require.Less(t, mr.TTL(k), settings.ProlongThreshold)
	v, err := cache.GetOrSet(ctx, "symbol", opts, loader.load)
	require.NoError(t, err)
	assert.Equal(t, "USDC", string(v))
	assert.Equal(t, settings.NeverExpireTTL, mr.TTL(k))
	assert.Equal(t, 1, loader.calls)
}

func TestGetOrSetJSON(t *testing.T) {
	_, pool := newTestPool(t)
	cache := NewCache(pool, testSettings())
	type meta struct {
		Symbol   string
		Decimals uint8
	}
	calls := 0
	load := func(ctx context.Context) (meta, error) {
		calls++
		return meta{Symbol: "WETH", Decimals: 18}, nil
	}

	for i := 0; i < 2; i++ {
		m, err := GetOrSetJSON(context.Background(), cache, "meta", types.CacheOptions{}, load)
		require.NoError(t, err)
		assert.Equal(t, meta{Symbol: "WETH", Decimals: 18}, m)
	}
	assert.Equal(t, 1, calls)
}

func TestTieredCacheServesLocally(t *testing.T) {
	mr, pool := newTestPool(t)
	settings := testSettings()
	tiered := NewTieredCache(NewCache(pool, settings), 1, time.Minute, settings)
	ctx := context.Background()
	loader := &countingLoader{value: "v"}

	_, err := tiered.GetOrSet(ctx, "k", types.CacheOptions{}, loader.load)
	require.NoError(t, err)

	// remote gone, local tier still answers
	mr.FlushAll()
	mr.SetError("down")
	v, err := tiered.GetOrSet(ctx, "k", types.CacheOptions{}, loader.load)
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, 1, loader.calls)
}

func TestTieredCacheWithoutLocalTier(t *testing.T) {
	_, pool := newTestPool(t)
	settings := testSettings()
	tiered := NewTieredCache(NewCache(pool, settings), 0, time.Minute, settings)
	loader := &countingLoader{value: "v"}

	for i := 0; i < 2; i++ {
		_, err := tiered.GetOrSet(context.Background(), "k", types.CacheOptions{}, loader.load)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, time.Minute, tiered.localExpiry(types.CacheOptions{NeverExpire: true}))
	assert.Equal(t, 5*time.Second, tiered.localExpiry(types.CacheOptions{TTL: 5 * time.Second}))
}

func TestMutexFailsFastWhileHeld(t *testing.T) {
	mr, pool := newTestPool(t)
	mutex := NewMutex(pool, 30*time.Second)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- mutex.RunExclusive(ctx, "batched-tx:1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	contended := lockContentionCount(t, "batched-tx:1")
	ran := false
	err := mutex.RunExclusive(ctx, "batched-tx:1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	var held *types.LockHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "batched-tx:1", held.Key)
	assert.False(t, ran)
	assert.Equal(t, contended+1, lockContentionCount(t, "batched-tx:1"))

	// other keys are independent
	require.NoError(t, mutex.RunExclusive(ctx, "batched-tx:56", func(ctx context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-firstDone)
	assert.False(t, mr.Exists(lockKey("batched-tx:1")))

	require.NoError(t, mutex.RunExclusive(ctx, "batched-tx:1", func(ctx context.Context) error { return nil }))
}

func TestMutexConcurrentCallersOnlyOneRuns(t *testing.T) {
	_, pool := newTestPool(t)
	mutex := NewMutex(pool, 30*time.Second)
	ctx := context.Background()

	const callers = 8
	var (
		executed atomic.Int32
		held     atomic.Int32
		wg       sync.WaitGroup
	)
	done := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mutex.RunExclusive(ctx, "chain:1", func(ctx context.Context) error {
				executed.Add(1)
				<-done
				return nil
			})
			if types.IsLockHeld(err) {
				held.Add(1)
			}
		}()
	}
	require.Eventually(t, func() bool {
		return executed.Load()+held.Load() == callers
	}, 5*time.Second, 10*time.Millisecond)
	close(done)
	wg.Wait()

	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, int32(callers-1), held.Load())
}

func TestMutexReleasesOnErrorAndPanic(t *testing.T) {
	mr, pool := newTestPool(t)
	mutex := NewMutex(pool, 30*time.Second)
	ctx := context.Background()
	boom := errors.New("send failed")

	err := mutex.RunExclusive(ctx, "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(lockKey("k")))

	assert.Panics(t, func() {
		_ = mutex.RunExclusive(ctx, "k", func(ctx context.Context) error { panic("bug") })
	})
	assert.False(t, mr.Exists(lockKey("k")))
}

func TestMutexSelfExpires(t *testing.T) {
	mr, pool := newTestPool(t)
	mutex := NewMutex(pool, 30*time.Second)
	ctx := context.Background()

	// a crashed holder leaves its marker behind
	require.NoError(t, mr.Set(lockKey("k"), "dead-holder"))
	mr.SetTTL(lockKey("k"), 30*time.Second)
	err := mutex.RunExclusive(ctx, "k", func(ctx context.Context) error { return nil })
	assert.True(t, types.IsLockHeld(err))

	mr.FastForward(31 * time.Second)
	require.NoError(t, mutex.RunExclusive(ctx, "k", func(ctx context.Context) error { return nil }))
}

func TestMutexDoesNotDeleteForeignLock(t *testing.T) {
	mr, pool := newTestPool(t)
	mutex := NewMutex(pool, 30*time.Second)

	err := mutex.RunExclusive(context.Background(), "k", func(ctx context.Context) error {
		// our lock expired and another executor took over
		mr.Del(lockKey("k"))
		return mr.Set(lockKey("k"), "other-owner")
	})
	require.NoError(t, err)
	v, err := mr.Get(lockKey("k"))
	require.NoError(t, err)
	assert.Equal(t, "other-owner", v)
}

func lockContentionCount(t *testing.T, key string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "relayer_lock_contention_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "key" && l.GetValue() == key {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMutexRefreshedWhileHolderRuns(t *testing.T) {
	mr, pool := newTestPool(t)
	const ttl = 300 * time.Millisecond
	mutex := NewMutex(pool, ttl)
	ctx := context.Background()

	err := mutex.RunExclusive(ctx, "batched-tx:56", func(ctx context.Context) error {
		// the holder runs for many ttls, e.g. a long shrink loop
		for i := 0; i < 10; i++ {
			mr.FastForward(2 * ttl / 3)
			require.True(t, mr.Exists(lockKey("batched-tx:56")))
			require.Eventually(t, func() bool {
				return mr.TTL(lockKey("batched-tx:56")) > ttl/2
			}, 2*time.Second, 5*time.Millisecond)
		}

		ran := false
		err := mutex.RunExclusive(ctx, "batched-tx:56", func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.True(t, types.IsLockHeld(err))
		assert.False(t, ran)
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(lockKey("batched-tx:56")))
}

func TestMutexCancelsHolderWhenLockLost(t *testing.T) {
	mr, pool := newTestPool(t)
	mutex := NewMutex(pool, 300*time.Millisecond)

	err := mutex.RunExclusive(context.Background(), "k", func(ctx context.Context) error {
		require.NoError(t, mr.Set(lockKey("k"), "other-owner"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("holder was not cancelled")
		}
	})
	assert.ErrorIs(t, err, types.ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)
	v, err := mr.Get(lockKey("k"))
	require.NoError(t, err)
	assert.Equal(t, "other-owner", v)
}

func TestCheckpointMonotonic(t *testing.T) {
	_, pool := newTestPool(t)
	store := NewCheckpointStore(pool)
	ctx := context.Background()

	_, found, err := store.Get(ctx, 1, "bridge")
	require.NoError(t, err)
	assert.False(t, found)

	stored, err := store.Set(ctx, 1, "bridge", 2100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2100), stored)

	stored, err = store.Set(ctx, 1, "bridge", 2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2100), stored)

	stored, err = store.Set(ctx, 1, "bridge", 2500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), stored)

	block, found, err := store.Get(ctx, 1, "bridge")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(2500), block)

	// scan types and chains are separate keys
	_, found, err = store.Get(ctx, 1, "supervisor")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = store.Get(ctx, 56, "bridge")
	require.NoError(t, err)
	assert.False(t, found)
}
