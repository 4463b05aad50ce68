package redis

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

func timeoutDialOptions(timeout time.Duration, password string) []redis.DialOption {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(timeout),
		redis.DialReadTimeout(timeout),
		redis.DialWriteTimeout(timeout),
	}
	if password != "" {
		opts = append(opts, redis.DialPassword(password))
	}
	return opts
}

// NewPool builds the connection pool shared by the cache, mutex and checkpoint store
// of one invocation.
func NewPool(addr, password string, timeout time.Duration) *redis.Pool {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, timeoutDialOptions(timeout, password)...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < 10*time.Second {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}
