package cache

import (
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedisClientForTest creates a Redis client backed by miniredis.
func NewRedisClientForTest() (*redis.Client, *miniredis.Miniredis, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return rdb, s, nil
}
