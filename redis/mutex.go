package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"swaprelayer/log"
	"swaprelayer/metrics"
	"swaprelayer/types"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
)

// deletes the lock only while we still own it, an expired lock may belong to someone else now
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extends the lock only while we still own it
var refreshScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Mutex is a non-blocking distributed lock. While the holder runs, the lock is
// refreshed every ttl/3, so the ttl only bounds how long a crashed holder blocks others.
type Mutex struct {
	pool *redis.Pool
	ttl  time.Duration
}

func NewMutex(pool *redis.Pool, ttl time.Duration) *Mutex {
	return &Mutex{pool: pool, ttl: ttl}
}

func lockKey(key string) string {
	return "lock:" + key
}

// RunExclusive runs fn while holding the lock for key, or fails at once with
// *types.LockHeldError. The lock is released whatever fn returns. If the lock is
// lost while fn runs, the ctx given to fn is cancelled with types.ErrLockLost.
func (m *Mutex) RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	k := lockKey(key)
	token := uuid.NewString()
	acquired, err := m.acquire(ctx, k, token)
	if err != nil {
		return err
	}
	if !acquired {
		metrics.LockContention(key)
		return &types.LockHeldError{Key: key}
	}

	holdCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepAlive(holdCtx, cancel, key, token)
	}()

	defer func() {
		cancel(nil)
		wg.Wait()
		if relErr := m.release(k, token); relErr != nil {
			log.Warn("[mutex] cannot release lock", "key", key, "err", relErr)
			err = errors.Join(err, relErr)
		}
	}()

	err = fn(holdCtx)
	if cause := context.Cause(holdCtx); errors.Is(cause, types.ErrLockLost) {
		return errors.Join(err, cause)
	}
	return err
}

func (m *Mutex) refreshInterval() time.Duration {
	if d := m.ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}

// keepAlive extends the lock until ctx is done. A failed refresh is retried on
// the next tick, a lock taken over by someone else cancels the holder.
func (m *Mutex) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, key, token string) {
	ticker := time.NewTicker(m.refreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		owned, err := m.refresh(ctx, lockKey(key), token)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("[mutex] cannot refresh lock", "key", key, "err", err)
			continue
		}
		if !owned {
			log.Error("[mutex] lock lost while held", "key", key)
			cancel(types.ErrLockLost)
			return
		}
	}
}

func (m *Mutex) refresh(ctx context.Context, k, token string) (bool, error) {
	conn, err := m.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	n, err := redis.Int(refreshScript.DoContext(ctx, conn, k, token, m.ttl.Milliseconds()))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (m *Mutex) acquire(ctx context.Context, k, token string) (bool, error) {
	conn, err := m.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, err = redis.String(redis.DoContext(conn, ctx, "SET", k, token, "NX", "PX", m.ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// release runs without the caller context, a cancelled invocation still frees its lock.
func (m *Mutex) release(k, token string) error {
	conn := m.pool.Get()
	defer conn.Close()

	_, err := releaseScript.Do(conn, k, token)
	return err
}
