package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"
)

// only ever moves the stored block forward
var setMaxScript = redis.NewScript(1, `
local cur = redis.call("GET", KEYS[1])
if cur == false or tonumber(ARGV[1]) > tonumber(cur) then
	redis.call("SET", KEYS[1], ARGV[1])
	return tonumber(ARGV[1])
end
return tonumber(cur)`)

type CheckpointStore struct {
	pool *redis.Pool
}

func NewCheckpointStore(pool *redis.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func checkpointKey(chainID int, scanType string) string {
	return fmt.Sprintf("chainBlockScanned:%d:%s", chainID, scanType)
}

// Get returns the last processed block, found is false on a cold start.
func (s *CheckpointStore) Get(ctx context.Context, chainID int, scanType string) (block uint64, found bool, err error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, false, err
	}
	defer conn.Close()

	block, err = redis.Uint64(redis.DoContext(conn, ctx, "GET", checkpointKey(chainID, scanType)))
	if errors.Is(err, redis.ErrNil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

// Set advances the checkpoint and returns the stored value, which is never lower
// than what was there before.
func (s *CheckpointStore) Set(ctx context.Context, chainID int, scanType string, block uint64) (uint64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return redis.Uint64(setMaxScript.Do(conn, checkpointKey(chainID, scanType), block))
}
