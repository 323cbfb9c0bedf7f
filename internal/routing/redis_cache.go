package routing

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-client/internal/models"
)

// RedisCache shares distance lookups between agents through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "distance:", ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, a, b models.Coord) (float64, bool) {
	v, err := r.client.Get(ctx, r.prefix+keyFor(a, b)).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (r *RedisCache) Set(ctx context.Context, a, b models.Coord, v float64) {
	_ = r.client.Set(ctx, r.prefix+keyFor(a, b), strconv.FormatFloat(v, 'f', 1, 64), r.ttl).Err()
}
